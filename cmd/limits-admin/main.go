// Административная утилита для работы со счётчиками лимитов.
//
// Подкоманды:
//
//	show-limits    -user <id>                         показать лимиты пользователя
//	set-limits     -user <id> -documents N -queries N выставить счётчики
//	reset-limits   -user <id>                         обнулить счётчики
//	list-all-users                                    список пользователей с лимитами
//	backfill                                          создать недостающие строки лимитов
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/medassist/user-state/internal/config"
	quotaservice "github.com/medassist/user-state/internal/services/quota"
	"github.com/medassist/user-state/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to storage: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	service := quotaservice.New(db, logger)

	if err := run(ctx, service, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, service *quotaservice.Service, command string, args []string) error {
	switch command {
	case "show-limits":
		return showLimits(ctx, service, args)
	case "set-limits":
		return setLimits(ctx, service, args)
	case "reset-limits":
		return resetLimits(ctx, service, args)
	case "list-all-users":
		return listAllUsers(ctx, service)
	case "backfill":
		return backfill(ctx, service)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func showLimits(ctx context.Context, service *quotaservice.Service, args []string) error {
	fs := flag.NewFlagSet("show-limits", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user id")
	_ = fs.Parse(args)

	limits, found, err := service.GetLimits(ctx, *userID)
	if err != nil {
		return err
	}
	if !found {
		fmt.Printf("user %d: limits not initialized\n", *userID)
		return nil
	}

	fmt.Printf("user %d\n", limits.UserID)
	fmt.Printf("  documents_left:    %d\n", limits.DocumentsLeft)
	fmt.Printf("  premium_queries:   %d\n", limits.PremiumQueries)
	fmt.Printf("  subscription_type: %s\n", limits.SubscriptionType)
	if limits.ExpiresAt != nil {
		fmt.Printf("  expires_at:        %s\n", limits.ExpiresAt.Format("2006-01-02 15:04"))
	} else {
		fmt.Printf("  expires_at:        -\n")
	}
	return nil
}

func setLimits(ctx context.Context, service *quotaservice.Service, args []string) error {
	fs := flag.NewFlagSet("set-limits", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user id")
	documents := fs.Int("documents", 0, "documents left")
	queries := fs.Int("queries", 0, "premium queries left")
	_ = fs.Parse(args)

	if err := service.SetLimits(ctx, *userID, *documents, *queries); err != nil {
		return err
	}
	fmt.Printf("user %d: limits set to %d documents, %d queries\n", *userID, *documents, *queries)
	return nil
}

func resetLimits(ctx context.Context, service *quotaservice.Service, args []string) error {
	fs := flag.NewFlagSet("reset-limits", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user id")
	_ = fs.Parse(args)

	if err := service.ResetLimits(ctx, *userID); err != nil {
		return err
	}
	fmt.Printf("user %d: limits reset\n", *userID)
	return nil
}

func listAllUsers(ctx context.Context, service *quotaservice.Service) error {
	users, err := service.ListUsers(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER ID\tNAME\tDOCS\tQUERIES\tTYPE\tEXPIRES")
	for _, u := range users {
		name := "-"
		if u.Name != nil {
			name = *u.Name
		}
		expires := "-"
		if u.ExpiresAt != nil {
			expires = u.ExpiresAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n",
			u.UserID, name, u.DocumentsLeft, u.PremiumQueries, u.SubscriptionType, expires)
	}
	return w.Flush()
}

func backfill(ctx context.Context, service *quotaservice.Service) error {
	created, err := service.BackfillMissing(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("backfill complete: %d rows created\n", created)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: limits-admin <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands: show-limits, set-limits, reset-limits, list-all-users, backfill")
}
