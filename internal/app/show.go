package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent alerts and the tail of the vault audit log.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}

	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Raised (UTC)\tVault\tSeverity\tActive\tResolved by\tCondition")
		for _, alert := range alerts {
			resolvedBy := ""
			if alert.ResolvedBy != nil {
				resolvedBy = *alert.ResolvedBy
			}
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%t\t%s\t%s\n",
				alert.CreatedAt.UTC().Format(time.RFC3339),
				alert.VaultID,
				strings.ToUpper(alert.Severity),
				alert.Active,
				resolvedBy,
				sanitizeInline(alert.Condition),
			)
		}
		writer.Flush()
	}

	events, err := store.ListRecentEvents(ctx, a.Config.Vault.ID, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no events found")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tVault\tKind\tActor\tAmount\tProposal")
	for _, event := range events {
		proposal := ""
		if event.Proposal != nil {
			proposal = *event.Proposal
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\n",
			event.CreatedAt.UTC().Format(time.RFC3339),
			event.VaultID,
			event.Kind,
			event.Actor,
			event.Amount,
			proposal,
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
