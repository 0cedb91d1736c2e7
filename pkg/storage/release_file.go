package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
)

// releaseFile is the YAML shape of a release definition handed over by the
// test-plan authoring surface.
type releaseFile struct {
	Release string `yaml:"release"`
	Stories []struct {
		ID          string `yaml:"id"`
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Priority    int    `yaml:"priority"`
		Steps       []struct {
			ID          string `yaml:"id"`
			Description string `yaml:"description"`
			Expected    string `yaml:"expected"`
		} `yaml:"steps"`
	} `yaml:"stories"`
}

// LoadReleaseFile reads a release definition and seeds the repository with
// its work items. Creation order in the file is the pool's tie-break order.
func LoadReleaseFile(repo *MemoryRepository, path string) (domain.ReleaseID, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ReleaseID{}, 0, fmt.Errorf("read release file: %w", err)
	}

	var file releaseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return domain.ReleaseID{}, 0, fmt.Errorf("parse release file: %w", err)
	}

	release, err := domain.NewReleaseID(file.Release)
	if err != nil {
		return domain.ReleaseID{}, 0, fmt.Errorf("release file %s: %w", path, err)
	}
	if len(file.Stories) == 0 {
		return domain.ReleaseID{}, 0, fmt.Errorf("release file %s: no stories", path)
	}

	items := make([]*verification.WorkItem, 0, len(file.Stories))
	for seq, story := range file.Stories {
		storyID, err := domain.NewStoryID(story.ID)
		if err != nil {
			return domain.ReleaseID{}, 0, fmt.Errorf("story %d: %w", seq, err)
		}
		steps := make([]verification.Step, 0, len(story.Steps))
		for _, step := range story.Steps {
			stepID, err := domain.NewStepID(step.ID)
			if err != nil {
				return domain.ReleaseID{}, 0, fmt.Errorf("story %s: %w", story.ID, err)
			}
			steps = append(steps, verification.Step{
				ID:          stepID,
				Description: step.Description,
				Expected:    step.Expected,
			})
		}
		items = append(items, &verification.WorkItem{
			StoryID:     storyID,
			Title:       story.Title,
			Description: story.Description,
			Priority:    story.Priority,
			Steps:       steps,
			Seq:         seq,
		})
	}

	repo.SeedRelease(release, items)
	return release, len(items), nil
}
