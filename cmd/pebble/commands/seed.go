package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/pebble-integrity/cmd/pebble/output"
	"github.com/marshallshelly/pebble-integrity/pkg/integrity"
	"github.com/marshallshelly/pebble-integrity/pkg/models"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

var seedUsers int

// seedCmd fills the built-in kinds with sample data
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert sample users, profiles, posts and categories",
	Long: `Insert sample data into the built-in kinds: each user gets a profile and
two posts, and every post is linked to one or two categories.

Examples:
  pebble seed
  pebble seed --users 20 --stats`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if modelsPath != "" {
			return errors.New("seed only supports the built-in models; drop --models")
		}
		return withSession(func(ctx context.Context, s *session) error {
			if err := seed(ctx, s.engine, seedUsers); err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(s.engine.Stats())
			}
			output.Success("Seeded %d users", seedUsers)
			printCounts(s.engine)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntVarP(&seedUsers, "users", "n", 5, "Number of users to create")
}

var seedCategories = []string{"engineering", "travel", "cooking", "music"}

func seed(ctx context.Context, e *integrity.Engine, users int) error {
	categories := make([]store.Key, len(seedCategories))
	for i, name := range seedCategories {
		rec, err := integrity.InsertModel(ctx, e, &models.Category{Name: &name})
		if err != nil {
			return fmt.Errorf("seed category %s: %w", name, err)
		}
		categories[i] = rec.Key
	}

	for i := range users {
		name := fmt.Sprintf("User %d", i+1)
		score := int64(i * 10)
		u := &models.User{FullName: &name, Score: &score}
		if _, err := integrity.InsertModel(ctx, e, u); err != nil {
			return fmt.Errorf("seed user: %w", err)
		}

		bio := "Hello from " + name
		if _, err := integrity.InsertModel(ctx, e, &models.Profile{UserID: u.ID, Bio: &bio}); err != nil {
			return fmt.Errorf("seed profile: %w", err)
		}

		for j := range 2 {
			text := fmt.Sprintf("Post %d by %s", j+1, name)
			p := &models.Post{AuthorID: u.ID, Text: &text}
			postRec, err := integrity.InsertModel(ctx, e, p)
			if err != nil {
				return fmt.Errorf("seed post: %w", err)
			}
			for k := range j + 1 {
				category := categories[(i+j+k)%len(categories)]
				if _, err := e.Link(ctx, "posts", postRec.Key, "categories", category); err != nil {
					return fmt.Errorf("seed link: %w", err)
				}
			}
		}
	}
	return nil
}
