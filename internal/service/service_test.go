package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/events"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/payout"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/registry"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/store"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/testutil"
)

const (
	seller = testutil.Seller
	buyer  = testutil.Buyer
)

var (
	price = decimal.RequireFromString("100000000000000000") // 0.1 ether in wei
	nft   = model.NewAssetKey(testutil.Collection, "0")
)

type harness struct {
	svc   *Service
	reg   *registry.Memory
	bank  *payout.Bank
	store *store.MemoryStore
	fx    testutil.MarketFixture

	mu     sync.Mutex
	events []events.Envelope
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fx := testutil.NewMarketFixture()
	h := &harness{
		reg:   fx.Registry,
		bank:  fx.Bank,
		store: store.NewMemoryStore(),
		fx:    fx,
	}

	pub := events.NewPublisher("aex-marketplace-test")
	pub.Subscribe(func(ctx context.Context, env events.Envelope) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, env)
	})

	h.svc = New(h.store, h.reg, h.bank, pub, testutil.MarketplaceID)
	return h
}

func (h *harness) eventTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]string, 0, len(h.events))
	for _, e := range h.events {
		types = append(types, e.EventType)
	}
	return types
}

func (h *harness) lastEvent() events.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return events.Envelope{}
	}
	return h.events[len(h.events)-1]
}

func (h *harness) owner(t *testing.T, asset model.AssetKey) string {
	t.Helper()
	owner, err := h.reg.OwnerOf(context.Background(), asset)
	testutil.AssertNoError(t, err)
	return owner
}

func TestListItem(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		asset   model.AssetKey
		price   decimal.Decimal
		setup   func(*harness)
		wantErr error
	}{
		{
			name:   "owner with token approval",
			caller: seller,
			asset:  nft,
			price:  price,
		},
		{
			name:   "owner with operator approval",
			caller: "carol",
			asset:  model.NewAssetKey(testutil.Collection, "7"),
			price:  price,
			setup: func(h *harness) {
				h.reg.Mint(model.NewAssetKey(testutil.Collection, "7"), "carol")
				h.reg.SetApprovalForAll(testutil.Collection, "carol", testutil.MarketplaceID, true)
			},
		},
		{
			name:    "already listed",
			caller:  seller,
			asset:   nft,
			price:   price,
			setup:   func(h *harness) { h.svc.ListItem(context.Background(), seller, nft, price) },
			wantErr: ErrAlreadyListed,
		},
		{
			name:    "not owner",
			caller:  buyer,
			asset:   nft,
			price:   price,
			wantErr: ErrNotOwner,
		},
		{
			name:    "unknown token",
			caller:  seller,
			asset:   model.NewAssetKey(testutil.Collection, "404"),
			price:   price,
			wantErr: ErrNotOwner,
		},
		{
			name:   "not approved",
			caller: seller,
			asset:  model.NewAssetKey(testutil.Collection, "1"),
			price:  price,
			setup: func(h *harness) {
				h.reg.Mint(model.NewAssetKey(testutil.Collection, "1"), seller)
			},
			wantErr: ErrNotApprovedForMarketplace,
		},
		{
			name:    "zero price",
			caller:  seller,
			asset:   nft,
			price:   decimal.Zero,
			wantErr: ErrPriceMustBeAboveZero,
		},
		{
			name:    "negative price",
			caller:  seller,
			asset:   nft,
			price:   decimal.NewFromInt(-1),
			wantErr: ErrPriceMustBeAboveZero,
		},
		{
			name:    "fractional price",
			caller:  seller,
			asset:   nft,
			price:   decimal.RequireFromString("1.5"),
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "zero price checked before listing state",
			caller:  seller,
			asset:   nft,
			price:   decimal.Zero,
			setup:   func(h *harness) { h.svc.ListItem(context.Background(), seller, nft, price) },
			wantErr: ErrPriceMustBeAboveZero,
		},
		{
			name:    "missing caller",
			caller:  " ",
			asset:   nft,
			price:   price,
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "missing token id",
			caller:  seller,
			asset:   model.NewAssetKey(testutil.Collection, ""),
			price:   price,
			wantErr: ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			listing, err := h.svc.ListItem(context.Background(), tt.caller, tt.asset, tt.price)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ListItem() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}

			if listing.Seller != tt.caller {
				t.Errorf("ListItem() seller = %v, want %v", listing.Seller, tt.caller)
			}
			got, ok, err := h.svc.GetListing(context.Background(), tt.asset)
			testutil.AssertNoError(t, err)
			if !ok {
				t.Fatal("GetListing() found no listing after ListItem")
			}
			if got.Seller != tt.caller || !got.Price.Equal(tt.price) {
				t.Errorf("GetListing() = {%v %v}, want {%v %v}", got.Seller, got.Price, tt.caller, tt.price)
			}
		})
	}
}

func TestGetListing_MalformedKeyIsAbsent(t *testing.T) {
	h := newHarness(t)
	h.svc.ListItem(context.Background(), seller, nft, price)

	for _, asset := range []model.AssetKey{
		model.NewAssetKey("", "0"),
		model.NewAssetKey(testutil.Collection, ""),
		model.NewAssetKey(testutil.Collection+"/0", "0"),
	} {
		_, ok, err := h.svc.GetListing(context.Background(), asset)
		if err != nil || ok {
			t.Errorf("GetListing(%q) = ok %v, err %v; want absent", asset.String(), ok, err)
		}
	}
}

func TestListItem_EmitsItemListed(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ListItem(context.Background(), seller, nft, price)
	testutil.AssertNoError(t, err)

	env := h.lastEvent()
	testutil.AssertEqual(t, events.EventItemListed, env.EventType)
	testutil.AssertEqual(t, nft.String(), env.Subject)
	testutil.AssertEqual(t, seller, env.Data["seller"])
	testutil.AssertEqual(t, price.String(), env.Data["price"])
}

func TestListItem_RejectionEmitsNothing(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ListItem(context.Background(), buyer, nft, price)
	testutil.AssertErrorIs(t, err, ErrNotOwner)
	testutil.AssertEqual(t, 0, len(h.eventTypes()))
}

func TestCancelListing(t *testing.T) {
	ctx := context.Background()

	t.Run("not listed", func(t *testing.T) {
		h := newHarness(t)
		testutil.AssertErrorIs(t, h.svc.CancelListing(ctx, seller, nft), ErrNotListed)
	})

	t.Run("not owner", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)

		testutil.AssertErrorIs(t, h.svc.CancelListing(ctx, buyer, nft), ErrNotOwner)
		_, ok, _ := h.svc.GetListing(ctx, nft)
		testutil.AssertTrue(t, ok, "listing survives a rejected cancel")
	})

	t.Run("owner cancels and buy is rejected", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)

		testutil.AssertNoError(t, h.svc.CancelListing(ctx, seller, nft))

		env := h.lastEvent()
		testutil.AssertEqual(t, events.EventItemCanceled, env.EventType)
		testutil.AssertEqual(t, seller, env.Data["seller"])

		_, ok, _ := h.svc.GetListing(ctx, nft)
		testutil.AssertTrue(t, !ok, "listing absent after cancel")

		_, err := h.svc.BuyItem(ctx, buyer, nft, price)
		testutil.AssertErrorIs(t, err, ErrNotListed)
	})
}

func TestUpdateListing(t *testing.T) {
	ctx := context.Background()
	newPrice := decimal.RequireFromString("200000000000000000")

	t.Run("not listed", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.UpdateListing(ctx, seller, nft, newPrice)
		testutil.AssertErrorIs(t, err, ErrNotListed)
	})

	t.Run("not owner", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)
		_, err := h.svc.UpdateListing(ctx, buyer, nft, newPrice)
		testutil.AssertErrorIs(t, err, ErrNotOwner)
	})

	t.Run("not owner is reported before a bad price", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)
		_, err := h.svc.UpdateListing(ctx, buyer, nft, decimal.Zero)
		testutil.AssertErrorIs(t, err, ErrNotOwner)
	})

	t.Run("zero price", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)
		_, err := h.svc.UpdateListing(ctx, seller, nft, decimal.Zero)
		testutil.AssertErrorIs(t, err, ErrPriceMustBeAboveZero)

		got, _, _ := h.svc.GetListing(ctx, nft)
		testutil.AssertAmount(t, price.String(), got.Price)
	})

	t.Run("marketplace lost approval", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)
		h.reg.Approve(seller, "", nft)

		_, err := h.svc.UpdateListing(ctx, seller, nft, newPrice)
		testutil.AssertErrorIs(t, err, ErrNotApprovedForMarketplace)
	})

	t.Run("owner updates price and item listed is re-emitted", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)

		listing, err := h.svc.UpdateListing(ctx, seller, nft, newPrice)
		testutil.AssertNoError(t, err)
		testutil.AssertAmount(t, newPrice.String(), listing.Price)

		got, _, _ := h.svc.GetListing(ctx, nft)
		testutil.AssertAmount(t, newPrice.String(), got.Price)

		types := h.eventTypes()
		testutil.AssertEqual(t, 2, len(types))
		testutil.AssertEqual(t, events.EventItemListed, types[1])
		testutil.AssertEqual(t, newPrice.String(), h.lastEvent().Data["price"])
	})

	t.Run("new owner takes over the listing", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)
		// transferred outside the marketplace, then re-approved by the new owner
		testutil.AssertNoError(t, h.reg.TransferFrom(ctx, seller, seller, "carol", nft))
		testutil.AssertNoError(t, h.reg.Approve("carol", testutil.MarketplaceID, nft))

		listing, err := h.svc.UpdateListing(ctx, "carol", nft, newPrice)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, "carol", listing.Seller)
	})
}

func TestBuyItem(t *testing.T) {
	ctx := context.Background()

	t.Run("not listed", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.BuyItem(ctx, buyer, nft, price)
		testutil.AssertErrorIs(t, err, ErrNotListed)
	})

	t.Run("price not met", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)

		_, err := h.svc.BuyItem(ctx, buyer, nft, price.Sub(decimal.NewFromInt(1)))
		testutil.AssertErrorIs(t, err, ErrPriceNotMet)
		testutil.AssertEqual(t, seller, h.owner(t, nft))
	})

	t.Run("invalid payment", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)

		_, err := h.svc.BuyItem(ctx, buyer, nft, decimal.NewFromInt(-1))
		testutil.AssertErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("overpayment credits only the price", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)
		paid := price.Mul(decimal.NewFromInt(3))

		receipt, err := h.svc.BuyItem(ctx, buyer, nft, paid)
		testutil.AssertNoError(t, err)
		testutil.AssertAmount(t, price.String(), receipt.Price)
		testutil.AssertAmount(t, paid.String(), receipt.Paid)

		testutil.AssertEqual(t, buyer, h.owner(t, nft))

		p, _ := h.svc.GetProceeds(ctx, seller)
		testutil.AssertAmount(t, price.String(), p.Balance)

		_, ok, _ := h.svc.GetListing(ctx, nft)
		testutil.AssertTrue(t, !ok, "listing absent after purchase")

		env := h.lastEvent()
		testutil.AssertEqual(t, events.EventItemBought, env.EventType)
		testutil.AssertEqual(t, buyer, env.Data["buyer"])
		testutil.AssertEqual(t, price.String(), env.Data["price"])

		entries, _ := h.svc.ListEntries(ctx, seller, 0)
		testutil.AssertEqual(t, 1, len(entries))
		testutil.AssertEqual(t, model.EntryTypeCredit, entries[0].EntryType)
		testutil.AssertEqual(t, buyer, entries[0].Counterparty)
	})

	t.Run("seller may buy back own listing", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)

		_, err := h.svc.BuyItem(ctx, seller, nft, price)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, seller, h.owner(t, nft))
	})

	t.Run("failed transfer rolls back", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)
		// approval revoked after listing; the registry refuses the transfer
		h.reg.Approve(seller, "", nft)

		_, err := h.svc.BuyItem(ctx, buyer, nft, price)
		testutil.AssertErrorIs(t, err, ErrTransferFailed)
		testutil.AssertErrorIs(t, err, registry.ErrNotAuthorized)
		testutil.AssertEqual(t, CodeTransferFailed, Code(err))

		_, ok, _ := h.svc.GetListing(ctx, nft)
		testutil.AssertTrue(t, ok, "listing restored after failed transfer")

		p, _ := h.svc.GetProceeds(ctx, seller)
		testutil.AssertAmount(t, "0", p.Balance)

		entries, _ := h.svc.ListEntries(ctx, seller, 0)
		testutil.AssertEqual(t, 0, len(entries))
		testutil.AssertEqual(t, seller, h.owner(t, nft))
		testutil.AssertEqual(t, events.EventItemListed, h.lastEvent().EventType)
	})
}

func TestWithdrawProceeds(t *testing.T) {
	ctx := context.Background()

	t.Run("no proceeds", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.WithdrawProceeds(ctx, seller)
		testutil.AssertErrorIs(t, err, ErrNoProceeds)
	})

	t.Run("withdraw pays the whole balance", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)
		h.svc.BuyItem(ctx, buyer, nft, price)

		receipt, err := h.svc.WithdrawProceeds(ctx, seller)
		testutil.AssertNoError(t, err)
		testutil.AssertAmount(t, price.String(), receipt.Amount)
		testutil.AssertTrue(t, receipt.PayoutID != "", "payout id set")

		p, _ := h.svc.GetProceeds(ctx, seller)
		testutil.AssertAmount(t, "0", p.Balance)
		testutil.AssertAmount(t, price.String(), h.bank.Balance(seller))

		env := h.lastEvent()
		testutil.AssertEqual(t, events.EventProceedsWithdrawn, env.EventType)

		entries, _ := h.svc.ListEntries(ctx, seller, 0)
		testutil.AssertEqual(t, 2, len(entries))
		testutil.AssertEqual(t, model.EntryTypeWithdrawal, entries[0].EntryType)
		testutil.AssertEqual(t, receipt.PayoutID, entries[0].ReferenceID)

		_, err = h.svc.WithdrawProceeds(ctx, seller)
		testutil.AssertErrorIs(t, err, ErrNoProceeds)
	})

	t.Run("failed payout rolls back", func(t *testing.T) {
		h := newHarness(t)
		h.svc.ListItem(ctx, seller, nft, price)
		h.svc.BuyItem(ctx, buyer, nft, price)
		h.bank.FailWith(payout.ErrRejected)

		_, err := h.svc.WithdrawProceeds(ctx, seller)
		testutil.AssertErrorIs(t, err, ErrTransferFailed)
		testutil.AssertErrorIs(t, err, payout.ErrRejected)

		p, _ := h.svc.GetProceeds(ctx, seller)
		testutil.AssertAmount(t, price.String(), p.Balance)

		h.bank.FailWith(nil)
		_, err = h.svc.WithdrawProceeds(ctx, seller)
		testutil.AssertNoError(t, err)
		testutil.AssertAmount(t, price.String(), h.bank.Balance(seller))
	})
}

func TestRelistAfterCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	newPrice := decimal.RequireFromString("300000000000000000")

	h.svc.ListItem(ctx, seller, nft, price)
	testutil.AssertNoError(t, h.svc.CancelListing(ctx, seller, nft))

	_, err := h.svc.ListItem(ctx, seller, nft, newPrice)
	testutil.AssertNoError(t, err)

	got, ok, _ := h.svc.GetListing(ctx, nft)
	testutil.AssertTrue(t, ok)
	testutil.AssertAmount(t, newPrice.String(), got.Price)

	_, err = h.svc.BuyItem(ctx, buyer, nft, price)
	testutil.AssertErrorIs(t, err, ErrPriceNotMet)
}

func TestScenario_ListBuyWithdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hundred := decimal.NewFromInt(100)

	_, err := h.svc.ListItem(ctx, seller, nft, hundred)
	testutil.AssertNoError(t, err)

	_, err = h.svc.BuyItem(ctx, buyer, nft, hundred)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, buyer, h.owner(t, nft))
	p, _ := h.svc.GetProceeds(ctx, seller)
	testutil.AssertAmount(t, "100", p.Balance)
	_, ok, _ := h.svc.GetListing(ctx, nft)
	testutil.AssertTrue(t, !ok)

	_, err = h.svc.WithdrawProceeds(ctx, seller)
	testutil.AssertNoError(t, err)
	p, _ = h.svc.GetProceeds(ctx, seller)
	testutil.AssertAmount(t, "0", p.Balance)
	testutil.AssertAmount(t, "100", h.bank.Balance(seller))

	want := []string{events.EventItemListed, events.EventItemBought, events.EventProceedsWithdrawn}
	got := h.eventTypes()
	testutil.AssertEqual(t, len(want), len(got))
	for i := range want {
		testutil.AssertEqual(t, want[i], got[i])
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, CodeOK},
		{ErrAlreadyListed, CodeAlreadyListed},
		{ErrNotOwner, CodeNotOwner},
		{ErrNotApprovedForMarketplace, CodeNotApprovedForMarketplace},
		{ErrNotListed, CodeNotListed},
		{ErrPriceNotMet, CodePriceNotMet},
		{ErrPriceMustBeAboveZero, CodePriceMustBeAboveZero},
		{ErrNoProceeds, CodeNoProceeds},
		{ErrReentrantCall, CodeReentrantCall},
		{ErrInvalidAmount, CodeInvalidAmount},
		{ErrInvalidRequest, CodeInvalidRequest},
		{errors.New("disk on fire"), CodeInternal},
		{errors.Join(ErrTransferFailed, ErrReentrantCall), CodeTransferFailed},
	}

	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
