// Package connector declares the provider-agnostic contract every exchange
// facade implements, and the factory that selects one. Callers never see
// which venue is behind a Connector: all payloads arrive in the canonical
// model and every method returns a Result carrying usage and timing.
package connector

import (
	"context"

	"github.com/sawpanic/tradegate/internal/models"
)

// Connector is the unified trading contract. Methods on spot-configured
// instances answer derivatives calls with a terminal "Futures type missed"
// failure rather than an error return: the Result is the only channel.
type Connector interface {
	// Account
	GetBalance(ctx context.Context) models.Result[[]models.FreeAsset]
	GetAPIPermission(ctx context.Context) models.Result[bool]
	GetUID(ctx context.Context) models.Result[string]
	GetAffiliate(ctx context.Context, uid string) models.Result[bool]

	// Orders
	OpenOrder(ctx context.Context, o models.OrderRequest) models.Result[models.Order]
	GetOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order]
	CancelOrder(ctx context.Context, ref models.OrderRef) models.Result[models.Order]
	GetAllOpenOrders(ctx context.Context, symbol string) models.Result[[]models.Order]
	CountOpenOrders(ctx context.Context, symbol string) models.Result[int]

	// Market data
	LatestPrice(ctx context.Context, symbol string) models.Result[float64]
	GetAllPrices(ctx context.Context) models.Result[[]models.TickerPrice]
	GetCandles(ctx context.Context, q models.CandleQuery) models.Result[[]models.Candle]
	GetTrades(ctx context.Context, symbol string, limit int) models.Result[[]models.Trade]

	// Instruments
	GetExchangeInfo(ctx context.Context, symbol string) models.Result[models.Instrument]
	GetAllExchangeInfo(ctx context.Context) models.Result[[]models.Instrument]

	// Fees
	GetUserFees(ctx context.Context, symbol string) models.Result[models.UserFee]
	GetAllUserFees(ctx context.Context) models.Result[[]models.PairFee]

	// Derivatives; meaningful only when constructed with a futures mode.
	FuturesChangeLeverage(ctx context.Context, symbol string, leverage int) models.Result[bool]
	FuturesChangeMarginType(ctx context.Context, symbol string, margin models.MarginType) models.Result[bool]
	FuturesGetHedge(ctx context.Context) models.Result[bool]
	FuturesSetHedge(ctx context.Context, hedge bool) models.Result[bool]
	FuturesGetPositions(ctx context.Context, symbol string) models.Result[[]models.Position]
	FuturesLeverageBracket(ctx context.Context, symbol string) models.Result[[]models.LeverageBracket]
}
