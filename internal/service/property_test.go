package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/payout"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/registry"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/store"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/testutil"
)

var actors = []string{"alice", "bob", "carol"}

// TestProperty_LedgerConservesValue drives random operation sequences and
// checks that every credited sale price is either escrowed or paid out, and
// that active listings always carry a positive price.
func TestProperty_LedgerConservesValue(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		reg := registry.NewMemory()
		bank := payout.NewBank()
		svc := New(store.NewMemoryStore(), reg, bank, nil, testutil.MarketplaceID)

		const tokens = 4
		assets := make([]model.AssetKey, tokens)
		for i := range assets {
			assets[i] = model.NewAssetKey(testutil.Collection, strconv.Itoa(i))
			owner := actors[i%len(actors)]
			reg.Mint(assets[i], owner)
			reg.SetApprovalForAll(testutil.Collection, owner, testutil.MarketplaceID, true)
		}

		sold := decimal.Zero
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			actor := rapid.SampledFrom(actors).Draw(rt, "actor")
			asset := assets[rapid.IntRange(0, tokens-1).Draw(rt, "asset")]
			amount := decimal.NewFromInt(int64(rapid.IntRange(-2, 50).Draw(rt, "amount")))

			switch rapid.IntRange(0, 4).Draw(rt, "op") {
			case 0:
				svc.ListItem(ctx, actor, asset, amount)
			case 1:
				svc.CancelListing(ctx, actor, asset)
			case 2:
				svc.UpdateListing(ctx, actor, asset, amount)
			case 3:
				listing, ok, _ := svc.GetListing(ctx, asset)
				receipt, err := svc.BuyItem(ctx, actor, asset, amount)
				if err == nil {
					if !ok {
						rt.Fatalf("BuyItem() succeeded on an unlisted asset")
					}
					if !receipt.Price.Equal(listing.Price) {
						rt.Fatalf("BuyItem() price = %v, want %v", receipt.Price, listing.Price)
					}
					if amount.LessThan(listing.Price) {
						rt.Fatalf("BuyItem() accepted payment %v below price %v", amount, listing.Price)
					}
					owner, _ := reg.OwnerOf(ctx, asset)
					if owner != actor {
						rt.Fatalf("owner after BuyItem() = %v, want %v", owner, actor)
					}
					sold = sold.Add(receipt.Price)
				}
			case 4:
				svc.WithdrawProceeds(ctx, actor)
			}

			held := decimal.Zero
			for _, a := range actors {
				p, err := svc.GetProceeds(ctx, a)
				if err != nil {
					rt.Fatalf("GetProceeds() error = %v", err)
				}
				if p.Balance.IsNegative() {
					rt.Fatalf("proceeds of %s negative: %v", a, p.Balance)
				}
				held = held.Add(p.Balance).Add(bank.Balance(a))
			}
			if !held.Equal(sold) {
				rt.Fatalf("escrowed + paid = %v, want %v", held, sold)
			}

			listings, _ := svc.ListListings(ctx, model.ListingFilter{})
			for _, l := range listings {
				if !l.Price.IsPositive() {
					rt.Fatalf("listing %s has non-positive price %v", l.Key(), l.Price)
				}
			}
		}
	})
}
