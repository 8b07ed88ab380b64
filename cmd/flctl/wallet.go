package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/fedlearn"
	"github.com/colorfulnotion/flchain/signer"
	"github.com/colorfulnotion/flchain/types"
)

func (a *app) walletsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wallets",
		Short: "Available wallet backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			wallets, err := svc.Wallets(cmd.Context())
			if err != nil {
				return err
			}
			lines := make([]string, 0, len(wallets))
			for _, w := range wallets {
				lines = append(lines, fmt.Sprintf("%-16s %s", w.ID, w.Name))
			}
			return a.print(wallets, strings.Join(lines, "\n"))
		},
	}
}

func (a *app) accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts <wallet>",
		Short: "Accounts a wallet backend exposes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := svc.Accounts(cmd.Context(), signer.BackendID(pos[0]))
			if err != nil {
				return err
			}
			lines := make([]string, 0, len(accounts))
			for _, acct := range accounts {
				line := fmt.Sprintf("%s %s", acct.ChainAddress, acct.Name)
				if acct.WalletAddress != "" {
					line += " (" + acct.WalletAddress + ")"
				}
				lines = append(lines, line)
			}
			return a.print(accounts, strings.Join(lines, "\n"))
		},
	}
}

func (a *app) devAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dev-accounts",
		Short: "Funded development accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			devs, err := svc.DevAccounts(cmd.Context())
			if err != nil {
				return err
			}
			lines := make([]string, 0, len(devs))
			for _, d := range devs {
				lines = append(lines, fmt.Sprintf("%-10s %s %s", d.Name, d.Address, d.BalanceFormatted))
			}
			return a.print(devs, strings.Join(lines, "\n"))
		},
	}
}

func (a *app) addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address <address>",
		Short: "Convert an SS58 or hex address to its chain form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			chainAddr, err := address.ToChainAddress(pos[0])
			if err != nil {
				return err
			}
			return a.print(chainAddr, chainAddr)
		},
	}
}

func (a *app) hashCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "hash [file]",
		Short: "Derive a model hash from a file or text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			if len(pos) == 1 {
				h, err := fedlearn.ModelHashFromFile(pos[0])
				if err != nil {
					return err
				}
				return a.print(h, h)
			}
			if text == "" {
				return fmt.Errorf("give a file or --text")
			}
			h := fedlearn.ModelHashFromString(text)
			return a.print(h, h)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Hash this text instead of a file")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	var (
		payloadFile string
		signature   string
		addr        string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a payload signature against an address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(payloadFile)
			if err != nil {
				return err
			}
			var p types.SignerPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("payload %s: %w", payloadFile, err)
			}
			if addr == "" {
				addr = p.Address
			}
			if err := signer.VerifyPayload(&p, signature, addr); err != nil {
				return err
			}
			return a.print(true, "signature valid")
		},
	}
	cmd.Flags().StringVar(&payloadFile, "payload", "", "JSON signer payload")
	cmd.Flags().StringVar(&signature, "signature", "", "0x hex encoded signature")
	cmd.Flags().StringVar(&addr, "address", "", "Expected signer, defaults to the payload address")
	_ = cmd.MarkFlagRequired("payload")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Submissions made from this machine, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			entries, err := j.List(limit)
			if err != nil {
				return err
			}
			lines := make([]string, 0, len(entries))
			for _, e := range entries {
				line := fmt.Sprintf("%s %-20s %s %s", e.Time.Format("2006-01-02 15:04:05"), e.Method, e.Outcome, e.ExtrinsicHash.Hex())
				if e.Error != "" {
					line += " " + e.Error
				}
				lines = append(lines, line)
			}
			return a.print(entries, strings.Join(lines, "\n"))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries (0 for all)")
	return cmd
}
