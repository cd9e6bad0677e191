package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete remote documents directly",
	Long: `Direct remote deletions outside the sync loops. The local rows must
be removed by the application; these commands only mirror the deletion
into the remote store.`,
}

var deletePersonCmd = &cobra.Command{
	Use:   "person <id>",
	Short: "Delete a contact and all its tasks and activities remotely",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e engineOps, tenant string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid contact id %q", args[0])
			}
			if err := e.DeletePersonCascade(ctx, tenant, id); err != nil {
				return err
			}
			fmt.Printf("Deleted contact %d and its dependents remotely.\n", id)
			return nil
		})
	},
}

var deleteTaskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Delete a task document remotely",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e engineOps, tenant string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			if err := e.DeleteTaskRemote(ctx, tenant, id); err != nil {
				return err
			}
			fmt.Printf("Deleted task %d remotely.\n", id)
			return nil
		})
	},
}

var deleteActivityCmd = &cobra.Command{
	Use:   "activity <id>",
	Short: "Delete an activity document remotely",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e engineOps, tenant string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid activity id %q", args[0])
			}
			if err := e.DeleteActivityRemote(ctx, tenant, id); err != nil {
				return err
			}
			fmt.Printf("Deleted activity %d remotely.\n", id)
			return nil
		})
	},
}

var wipeForce bool

var wipeRemoteCmd = &cobra.Command{
	Use:   "wipe-remote",
	Short: "Delete every remote document for the tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeForce {
			return fmt.Errorf("refusing to wipe remote data without --force")
		}
		return withEngine(func(ctx context.Context, e engineOps, tenant string) error {
			if err := e.ClearAllRemoteData(ctx, tenant); err != nil {
				return err
			}
			fmt.Printf("Cleared all remote data for tenant %s.\n", tenant)
			return nil
		})
	},
}

// engineOps is the slice of the engine these commands need.
type engineOps interface {
	DeletePersonCascade(ctx context.Context, tenant string, id int64) error
	DeleteTaskRemote(ctx context.Context, tenant string, id int64) error
	DeleteActivityRemote(ctx context.Context, tenant string, id int64) error
	ClearAllRemoteData(ctx context.Context, tenant string) error
}

func withEngine(fn func(ctx context.Context, e engineOps, tenant string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	eng, cleanup, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(ctx, eng, cfg.Tenant)
}

func init() {
	wipeRemoteCmd.Flags().BoolVar(&wipeForce, "force", false, "confirm the wipe")
	deleteCmd.AddCommand(deletePersonCmd)
	deleteCmd.AddCommand(deleteTaskCmd)
	deleteCmd.AddCommand(deleteActivityCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(wipeRemoteCmd)
}
