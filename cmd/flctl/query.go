package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/flchain/log"
	"github.com/colorfulnotion/flchain/storage"
)

// print writes v as JSON with --json, otherwise text.
func (a *app) print(v any, text string) error {
	if a.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	fmt.Println(text)
	return nil
}

func (a *app) queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read FederatedLearning pallet storage",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "institution <account>",
			Short: "Institution an account is authorized under",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, pos []string) error {
				svc, err := a.service(cmd.Context())
				if err != nil {
					return err
				}
				name, ok, err := svc.AuthorizedInstitution(cmd.Context(), pos[0])
				if err != nil {
					return err
				}
				text := "not authorized"
				if ok {
					text = name
				}
				return a.print(map[string]any{"authorized": ok, "institution": name}, text)
			},
		},
		&cobra.Command{
			Use:   "global-model",
			Short: "Current global model",
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := a.service(cmd.Context())
				if err != nil {
					return err
				}
				g, err := svc.GlobalModel(cmd.Context())
				if err != nil {
					return err
				}
				if g == nil {
					return a.print(nil, "no global model yet")
				}
				return a.print(g, fmt.Sprintf("hash %s\ncid %s\nweight change %d", g.Hash.Hex(), string(g.Cid), g.WeightChange))
			},
		},
		&cobra.Command{
			Use:   "next-id",
			Short: "Id the next local model record will get",
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := a.service(cmd.Context())
				if err != nil {
					return err
				}
				id, err := svc.NextID(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(id, strconv.FormatUint(id, 10))
			},
		},
		&cobra.Command{
			Use:   "pallet-version",
			Short: "On-chain storage version of the pallet",
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := a.service(cmd.Context())
				if err != nil {
					return err
				}
				v, err := svc.PalletVersion(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(v, strconv.FormatUint(uint64(v), 10))
			},
		},
		&cobra.Command{
			Use:   "record <id>",
			Short: "One local model record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, pos []string) error {
				id, err := strconv.ParseUint(pos[0], 10, 64)
				if err != nil {
					return fmt.Errorf("record id: %w", err)
				}
				svc, err := a.service(cmd.Context())
				if err != nil {
					return err
				}
				r, err := svc.Record(cmd.Context(), id)
				if err != nil {
					return err
				}
				if r == nil {
					return a.print(nil, fmt.Sprintf("record %d not found", id))
				}
				return a.print(r, formatRecord(id, r.Who.Lower(), r.ModelHash.Hex(), r.AccuracyPercent(), string(r.IpfsCid)))
			},
		},
		&cobra.Command{
			Use:   "is-admin <account>",
			Short: "Whether an account is a pallet administrator",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, pos []string) error {
				svc, err := a.service(cmd.Context())
				if err != nil {
					return err
				}
				ok, err := svc.IsAdmin(cmd.Context(), pos[0])
				if err != nil {
					return err
				}
				return a.print(ok, strconv.FormatBool(ok))
			},
		},
		&cobra.Command{
			Use:   "balance <account>",
			Short: "Free balance of an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, pos []string) error {
				svc, err := a.service(cmd.Context())
				if err != nil {
					return err
				}
				free, err := svc.FreeBalance(cmd.Context(), pos[0])
				if err != nil {
					return err
				}
				return a.print(free.String(), storage.FormatBalance(free, 12, "KPGD"))
			},
		},
	)
	return cmd
}

func formatRecord(id uint64, who, hash, accuracy, cid string) string {
	return fmt.Sprintf("#%d %s model %s accuracy %s cid %s", id, who, hash, accuracy, cid)
}

func (a *app) recordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "records",
		Short: "All local model records, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			records, err := svc.Records(cmd.Context())
			if err != nil {
				return err
			}
			lines := make([]string, 0, len(records))
			for _, r := range records {
				lines = append(lines, formatRecord(r.ID, r.Who.Lower(), r.ModelHash.Hex(), r.AccuracyPercent(), string(r.IpfsCid)))
			}
			return a.print(records, strings.Join(lines, "\n"))
		},
	}
}

func (a *app) eventsCmd() *cobra.Command {
	var (
		blocks int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Events of recent blocks, or follow new blocks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			if follow {
				err := svc.SubscribeEvents(cmd.Context(), func(ev storage.BlockEvent) {
					if err := a.print(ev, formatEvent(ev)); err != nil {
						log.Warn(log.CLIModule, "print event", "err", err)
					}
				})
				if cmd.Context().Err() != nil {
					return nil
				}
				return err
			}
			evs, err := svc.RecentEvents(cmd.Context(), blocks)
			if err != nil {
				return err
			}
			lines := make([]string, 0, len(evs))
			for _, ev := range evs {
				lines = append(lines, formatEvent(ev))
			}
			return a.print(evs, strings.Join(lines, "\n"))
		},
	}
	cmd.Flags().IntVar(&blocks, "blocks", 10, "Number of recent blocks to read")
	cmd.Flags().BoolVar(&follow, "follow", false, "Stream events of new blocks until interrupted")
	return cmd
}

func formatEvent(ev storage.BlockEvent) string {
	return fmt.Sprintf("#%d/%d %s %s", ev.BlockNumber, ev.EventIndex, ev.Timestamp.Format("15:04:05"), ev.Event.Name())
}
