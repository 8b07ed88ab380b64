package fedlearn

import (
	"context"

	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/signer"
	"github.com/colorfulnotion/flchain/storage"
	"github.com/colorfulnotion/flchain/types"
)

func (s *Service) AuthorizedInstitution(ctx context.Context, account string) (string, bool, error) {
	return s.querier.AuthorizedInstitution(ctx, account)
}

func (s *Service) GlobalModel(ctx context.Context) (*types.GlobalModel, error) {
	return s.querier.GlobalModel(ctx)
}

func (s *Service) NextID(ctx context.Context) (uint64, error) {
	return s.querier.NextID(ctx)
}

func (s *Service) PalletVersion(ctx context.Context) (uint32, error) {
	return s.querier.PalletVersion(ctx)
}

func (s *Service) Record(ctx context.Context, id uint64) (*types.ModelRecord, error) {
	return s.querier.Record(ctx, id)
}

func (s *Service) IsAdmin(ctx context.Context, account string) (bool, error) {
	return s.querier.IsAdmin(ctx, account)
}

func (s *Service) Records(ctx context.Context) ([]types.IndexedRecord, error) {
	return s.querier.Records(ctx)
}

func (s *Service) FreeBalance(ctx context.Context, account string) (codec.Uint128, error) {
	return s.querier.FreeBalance(ctx, account)
}

func (s *Service) RecentEvents(ctx context.Context, blocks int) ([]storage.BlockEvent, error) {
	return s.querier.RecentEvents(ctx, blocks)
}

// SubscribeEvents calls fn for every event of each new block until ctx ends.
func (s *Service) SubscribeEvents(ctx context.Context, fn func(storage.BlockEvent)) error {
	return s.querier.SubscribeEvents(ctx, fn)
}

// DevAccounts lists the development accounts that hold funds.
func (s *Service) DevAccounts(ctx context.Context) ([]storage.DevAccount, error) {
	keys := make([]storage.DevAccountKey, 0, len(signer.DevKeys))
	for _, k := range signer.DevKeys {
		keys = append(keys, storage.DevAccountKey{Name: k.Name, Address: k.Address()})
	}
	return s.querier.DevAccounts(ctx, keys)
}
