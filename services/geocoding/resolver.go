package geocoding

import (
	"context"
	"fmt"

	"github.com/sahilchouksey/geocoder/model"
	"github.com/sahilchouksey/geocoder/services/geocoding/provider"
)

// Resolution is a resolved result plus the providers that produced it
type Resolution struct {
	Result model.GeocodeResult
	Tried  []string
}

// kindHandler resolves one kind through the provider chain
type kindHandler interface {
	resolve(ctx context.Context, chain *provider.Chain, in model.Input) (model.GeocodeResult, provider.Attempt, error)
}

type forwardCityHandler struct{}

func (forwardCityHandler) resolve(ctx context.Context, chain *provider.Chain, in model.Input) (model.GeocodeResult, provider.Attempt, error) {
	var city string
	attempt, err := chain.Do(ctx, func(p provider.Provider) (err error) {
		city, err = p.ForwardToRegion(ctx, in.PostalCode)
		return err
	})
	return model.GeocodeResult{City: city}, attempt, err
}

type forwardCoordsHandler struct{}

func (forwardCoordsHandler) resolve(ctx context.Context, chain *provider.Chain, in model.Input) (model.GeocodeResult, provider.Attempt, error) {
	var coords model.Coordinates
	attempt, err := chain.Do(ctx, func(p provider.Provider) (err error) {
		coords, err = p.ForwardToCoords(ctx, in.PostalCode)
		return err
	})
	if err != nil {
		return model.GeocodeResult{}, attempt, err
	}
	return model.GeocodeResult{Coords: &coords}, attempt, nil
}

type reverseRegionHandler struct{}

func (reverseRegionHandler) resolve(ctx context.Context, chain *provider.Chain, in model.Input) (model.GeocodeResult, provider.Attempt, error) {
	var region string
	attempt, err := chain.Do(ctx, func(p provider.Provider) (err error) {
		region, err = p.ReverseToRegion(ctx, in.Coords.Lat, in.Coords.Lng)
		return err
	})
	return model.GeocodeResult{RegionCode: region}, attempt, err
}

type reverseAddressHandler struct{}

func (reverseAddressHandler) resolve(ctx context.Context, chain *provider.Chain, in model.Input) (model.GeocodeResult, provider.Attempt, error) {
	var address string
	attempt, err := chain.Do(ctx, func(p provider.Provider) (err error) {
		address, err = p.ReverseToAddress(ctx, in.Coords.Lat, in.Coords.Lng)
		return err
	})
	return model.GeocodeResult{FormattedAddress: address}, attempt, err
}

func handlerFor(kind model.Kind) (kindHandler, error) {
	switch kind {
	case model.KindForwardCity:
		return forwardCityHandler{}, nil
	case model.KindForwardCoords:
		return forwardCoordsHandler{}, nil
	case model.KindReverseToRegion:
		return reverseRegionHandler{}, nil
	case model.KindReverseToAddress:
		return reverseAddressHandler{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownKind, kind)
	}
}

// Resolver dispatches a (kind, input) pair to its handler
type Resolver struct {
	chain *provider.Chain
}

// NewResolver creates a resolver over the provider chain
func NewResolver(chain *provider.Chain) *Resolver {
	return &Resolver{chain: chain}
}

// Resolve runs one pass through the provider chain for kind
func (r *Resolver) Resolve(ctx context.Context, kind model.Kind, in model.Input) (Resolution, error) {
	h, err := handlerFor(kind)
	if err != nil {
		return Resolution{}, err
	}
	if err := in.Validate(kind); err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	result, attempt, err := h.resolve(ctx, r.chain, in)
	if err != nil {
		return Resolution{Tried: attempt.Tried}, err
	}
	result.Provider = attempt.Provider
	return Resolution{Result: result, Tried: attempt.Tried}, nil
}
