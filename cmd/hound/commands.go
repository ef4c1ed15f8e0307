package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tazhate/hound/internal/log"
	"github.com/tazhate/hound/internal/recurrence"
	"github.com/tazhate/hound/internal/scheduler"
	"github.com/tazhate/hound/internal/service"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete soft-deleted rows every family member has synchronized",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := scheduler.RunPurge(cmd.Context(), store, log.WithComponent("maintenance"))
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		fmt.Printf("Purged %d reminders, %d logs, %d dogs\n", res.Reminders, res.Logs, res.Dogs)
		return nil
	},
}

var familyCmd = &cobra.Command{
	Use:   "family",
	Short: "Manage families",
}

var familyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a family with its members and dogs",
	Example: `  hound family create --name Smiths --user ann --token 123456 --user bob --token "" --dog Rex`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		users, _ := cmd.Flags().GetStringArray("user")
		tokens, _ := cmd.Flags().GetStringArray("token")
		dogs, _ := cmd.Flags().GetStringArray("dog")

		if len(tokens) > len(users) {
			return fmt.Errorf("got %d tokens for %d users", len(tokens), len(users))
		}
		members := make([]service.NewMember, len(users))
		for i, u := range users {
			members[i].Name = u
			if i < len(tokens) {
				members[i].Token = tokens[i]
			}
		}

		_, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		family, created, createdDogs, err := service.NewFamilyService(store, nil, nil).Create(cmd.Context(), name, members, dogs)
		if err != nil {
			return err
		}

		fmt.Printf("Family %q created (ID %d)\n", family.Name, family.ID)
		for _, u := range created {
			fmt.Printf("  user %-12s ID %d  notifications=%t\n", u.Name, u.ID, u.NotificationsEnabled)
		}
		for _, d := range createdDogs {
			fmt.Printf("  dog  %-12s ID %d\n", d.Name, d.ID)
		}
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the next due instant of a reminder",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetInt64("reminder")
		if id <= 0 {
			return fmt.Errorf("--reminder is required")
		}

		cfg, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		r, err := store.GetReminder(cmd.Context(), id)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("reminder %d not found", id)
		}

		svc := service.NewReminderService(store, nil, recurrence.New(cfg.Timezone), nil, nil)
		res, err := svc.NextDue(cmd.Context(), r)
		if err != nil {
			return err
		}

		fmt.Printf("Reminder %d (%s, %s, %s)\n", r.ID, r.DisplayAction(), r.Type(), r.State())
		switch {
		case res.Never:
			fmt.Println("  next due: never")
		case res.Overdue(time.Now()):
			fmt.Printf("  next due: %s (overdue)\n", res.At.In(cfg.Timezone).Format(time.RFC3339))
		default:
			fmt.Printf("  next due: %s\n", res.At.In(cfg.Timezone).Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	familyCreateCmd.Flags().String("name", "", "family name")
	familyCreateCmd.Flags().StringArray("user", nil, "member name (repeatable)")
	familyCreateCmd.Flags().StringArray("token", nil, "Telegram chat ID of the member at the same position (repeatable)")
	familyCreateCmd.Flags().StringArray("dog", nil, "dog name (repeatable)")
	familyCreateCmd.MarkFlagRequired("name")
	familyCmd.AddCommand(familyCreateCmd)

	nextCmd.Flags().Int64("reminder", 0, "reminder ID")
}
