package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/call"
	"github.com/colorfulnotion/flchain/dispatch"
	"github.com/colorfulnotion/flchain/fedlearn"
	"github.com/colorfulnotion/flchain/signer"
)

// senderFlags are shared by the write commands.
type senderFlags struct {
	from          string
	walletAddress string
	wallet        string
}

func (f *senderFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "Sender chain address (0x + 40 hex)")
	cmd.Flags().StringVar(&f.walletAddress, "wallet-address", "", "Sender address as the wallet knows it, when different")
	cmd.Flags().StringVar(&f.wallet, "wallet", string(signer.BackendDev), "Wallet backend holding the sender")
	_ = cmd.MarkFlagRequired("from")
}

func (f *senderFlags) sender() fedlearn.Sender {
	return fedlearn.Sender{Address: f.from, WalletAddress: f.walletAddress, Backend: signer.BackendID(f.wallet)}
}

func (a *app) submit(cmd *cobra.Command, from fedlearn.Sender, args call.Args) error {
	svc, err := a.service(cmd.Context())
	if err != nil {
		return err
	}
	out, err := svc.Submit(cmd.Context(), from, args)
	if err != nil {
		return err
	}
	if err := a.print(out, formatOutcome(out)); err != nil {
		return err
	}
	return out.Err()
}

func formatOutcome(out *dispatch.Outcome) string {
	switch out.Kind {
	case dispatch.Finalized:
		if out.Unverified() {
			return fmt.Sprintf("finalized in block %s, result unknown: %v\nextrinsic %s (do not resubmit)", out.BlockHash.Hex(), out.EventsErr, out.ExtrinsicHash.Hex())
		}
		s := fmt.Sprintf("finalized in block #%d (%s)\nextrinsic %s index %d", out.BlockNumber, out.BlockHash.Hex(), out.ExtrinsicHash.Hex(), out.Index)
		for _, ev := range out.Events {
			s += "\n  " + ev.Name()
		}
		return s
	case dispatch.DispatchFailed:
		return fmt.Sprintf("dispatch failed in block #%d: %v", out.BlockNumber, out.ModuleError)
	}
	return fmt.Sprintf("transport failed: %v", out.Cause)
}

func (a *app) submitLocalModelCmd() *cobra.Command {
	var (
		sf       senderFlags
		args     call.SubmitLocalModelArgs
		file     string
		accuracy float64
	)
	cmd := &cobra.Command{
		Use:   "submit-local-model",
		Short: "Record a locally trained model",
		Example: `  flctl submit-local-model --from 0xf24ff3a9cf04c71dbc94d0b566f7a27b94566cac \
    --model-file ./model.bin --accuracy 88 --cid bafy... --note "round 3"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				h, err := fedlearn.ModelHashFromFile(file)
				if err != nil {
					return err
				}
				args.ModelHash = h
			}
			args.Accuracy = int64(accuracy*100 + 0.5)
			if accuracy < 0 {
				args.Accuracy = -1
			}
			return a.submit(cmd, sf.sender(), args)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&args.ModelHash, "model-hash", "", "Model hash (0x + 64 hex)")
	cmd.Flags().StringVar(&file, "model-file", "", "Derive the model hash from this file")
	cmd.Flags().Float64Var(&accuracy, "accuracy", 0, "Accuracy in percent (0-100, two decimals)")
	cmd.Flags().StringVar(&args.CID, "cid", "", "Content id of the model")
	cmd.Flags().StringVar(&args.Note, "note", "", "Free-form note")
	cmd.MarkFlagsOneRequired("model-hash", "model-file")
	cmd.MarkFlagsMutuallyExclusive("model-hash", "model-file")
	return cmd
}

func (a *app) updateGlobalModelCmd() *cobra.Command {
	var (
		sf   senderFlags
		args call.UpdateGlobalModelArgs
	)
	cmd := &cobra.Command{
		Use:   "update-global-model",
		Short: "Publish a new aggregated global model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.submit(cmd, sf.sender(), args)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&args.Hash, "hash", "", "Global model hash (0x + 64 hex)")
	cmd.Flags().StringVar(&args.CID, "cid", "", "Content id of the model")
	cmd.Flags().Int64Var(&args.WeightChange, "weight-change", 0, "Weight change magnitude")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

func (a *app) forceAuthorizeCmd() *cobra.Command {
	var (
		sf   senderFlags
		args call.ForceAuthorizeArgs
	)
	cmd := &cobra.Command{
		Use:   "force-authorize <account> <institution>",
		Short: "Authorize an account for an institution (admin only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, pos []string) error {
			args.Account, args.Institution = pos[0], pos[1]
			return a.submit(cmd, sf.sender(), args)
		},
	}
	sf.register(cmd)
	return cmd
}

func (a *app) forceUnauthorizeCmd() *cobra.Command {
	var sf senderFlags
	cmd := &cobra.Command{
		Use:   "force-unauthorize <account>",
		Short: "Revoke an account's authorization (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			return a.submit(cmd, sf.sender(), call.ForceUnauthorizeArgs{Account: pos[0]})
		},
	}
	sf.register(cmd)
	return cmd
}

// describe turns user cancellations into a neutral message.
func describe(err error) string {
	if errors.Is(err, signer.ErrSigningRejected) {
		return "cancelled in the wallet"
	}
	return err.Error()
}

// exitCode separates cancellations, invalid input, on-chain rejections and
// transport problems.
func exitCode(err error) int {
	switch {
	case errors.Is(err, signer.ErrSigningRejected):
		return 2
	case errors.Is(err, call.ErrInvalidArguments), errors.Is(err, address.ErrInvalidAddress):
		return 3
	case errors.Is(err, dispatch.ErrDispatchFailed):
		return 4
	case errors.Is(err, dispatch.ErrTransportFailed):
		return 5
	}
	return 1
}
