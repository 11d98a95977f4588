package service

import (
	"errors"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

var (
	ErrAlreadyListed             = errors.New("item already listed")
	ErrNotOwner                  = errors.New("caller is not the owner of the item")
	ErrNotApprovedForMarketplace = errors.New("marketplace is not approved to transfer the item")
	ErrNotListed                 = errors.New("item is not listed")
	ErrPriceNotMet               = errors.New("payment does not meet the asking price")
	ErrPriceMustBeAboveZero      = errors.New("price must be above zero")
	ErrNoProceeds                = errors.New("no proceeds to withdraw")
	ErrTransferFailed            = errors.New("transfer failed")
	ErrReentrantCall             = errors.New("re-entrant call rejected")
	ErrInvalidRequest            = errors.New("invalid request")
	ErrInvalidAmount             = model.ErrInvalidAmount
)

// Stable error codes exposed to clients
const (
	CodeOK                        = "OK"
	CodeAlreadyListed             = "AlreadyListed"
	CodeNotOwner                  = "NotOwner"
	CodeNotApprovedForMarketplace = "NotApprovedForMarketplace"
	CodeNotListed                 = "NotListed"
	CodePriceNotMet               = "PriceNotMet"
	CodePriceMustBeAboveZero      = "PriceMustBeAboveZero"
	CodeNoProceeds                = "NoProceeds"
	CodeTransferFailed            = "TransferFailed"
	CodeReentrantCall             = "ReentrantCall"
	CodeInvalidAmount             = "InvalidAmount"
	CodeInvalidRequest            = "InvalidRequest"
	CodeInternal                  = "Internal"
)

// codes is checked in order; TransferFailed comes first because it wraps
// whatever the external collaborator returned
var codes = []struct {
	err  error
	code string
}{
	{ErrTransferFailed, CodeTransferFailed},
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
}

// Code maps an error returned by the service to its error kind
func Code(err error) string {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
