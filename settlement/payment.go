package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/vitwit/paycore/access"
	"github.com/vitwit/paycore/fee"
	"github.com/vitwit/paycore/metrics"
	"github.com/vitwit/paycore/types"
)

// ProcessPayment settles intent: the gross amount is pulled from the payer
// into custody, the protocol fee is paid to the treasury and the rest to the
// payee. caller must be an admin or the relayer. On any error no funds move.
func (e *Engine) ProcessPayment(ctx context.Context, caller common.Address, intent *types.PaymentIntent) (*types.SettlementResult, error) {
	start := time.Now()

	var result *types.SettlementResult
	err := e.run(func() ([]types.Event, error) {
		if err := e.requireInitialized(); err != nil {
			return nil, err
		}
		if err := e.access.RequireAny(caller, access.RoleAdmin, access.RoleRelayer); err != nil {
			return nil, err
		}
		if err := intent.Validate(); err != nil {
			return nil, types.NewError(types.ErrCodeInvalidPayment, "invalid payment intent", err)
		}
		if !e.registry.IsSupported(intent.Token) {
			return nil, types.NewError(types.ErrCodeUnsupportedToken, "token is not supported", nil).
				WithDetails("token", intent.Token.Hex())
		}

		cfg := e.cfg()
		gross := new(big.Int).Set(intent.Amount)
		feeAmount, net := fee.Calculator{BasisPoints: cfg.FeeBasisPoints}.Split(gross)
		legs := []types.Leg{
			{Kind: types.LegPull, Spender: cfg.Custody, From: intent.Payer, To: cfg.Custody, Amount: gross},
			{Kind: types.LegPush, From: cfg.Custody, To: cfg.Treasury, Amount: feeAmount},
			{Kind: types.LegPush, From: cfg.Custody, To: intent.Payee, Amount: net},
		}

		settleCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		if err := e.transfers.Execute(settleCtx, intent.Token, legs); err != nil {
			return nil, types.NewError(types.ErrCodeTransferFailed, "transfer failed", err).
				WithDetails("token", intent.Token.Hex()).
				WithDetails("payer", intent.Payer.Hex())
		}

		result = &types.SettlementResult{
			Success:   true,
			PaymentID: uuid.NewString(),
			Payer:     intent.Payer,
			Payee:     intent.Payee,
			Token:     intent.Token,
			Treasury:  cfg.Treasury,
			Gross:     gross,
			Fee:       feeAmount,
			Net:       net,
			Timestamp: e.now().UTC(),
		}
		return []types.Event{e.record(ctx, caller, types.Event{
			Kind:      types.EventPaymentProcessed,
			PaymentID: result.PaymentID,
			Payer:     addr(intent.Payer),
			Payee:     addr(intent.Payee),
			Token:     addr(intent.Token),
			Treasury:  addr(cfg.Treasury),
			Gross:     new(big.Int).Set(gross),
			Fee:       new(big.Int).Set(feeAmount),
			Net:       new(big.Int).Set(net),
		})}, nil
	})

	var token string
	if intent != nil {
		token = intent.Token.Hex()
	}
	labels := map[string]string{"token": token}
	e.metrics.ObserveLatency(metrics.SettleLatency, time.Since(start), labels)

	if err != nil {
		labels["outcome"] = string(types.CodeOf(err))
		e.metrics.IncCounter(metrics.PaymentsFailed, labels)
		e.log.Warn("payment rejected", map[string]any{
			"caller": caller.Hex(),
			"token":  token,
			"error":  err,
		})
		return nil, err
	}

	labels["outcome"] = "success"
	e.metrics.IncCounter(metrics.PaymentsProcessed, labels)
	e.log.Info("payment processed", map[string]any{
		"payment_id": result.PaymentID,
		"payer":      result.Payer.Hex(),
		"payee":      result.Payee.Hex(),
		"token":      token,
		"gross":      result.Gross.String(),
		"fee":        result.Fee.String(),
		"net":        result.Net.String(),
	})
	return result, nil
}

// BatchProcess settles intents concurrently. Each payment is still applied
// atomically and independently; failures are reported in the matching
// result rather than aborting the batch.
func (e *Engine) BatchProcess(ctx context.Context, caller common.Address, intents []*types.PaymentIntent) ([]*types.SettlementResult, error) {
	results := make([]*types.SettlementResult, len(intents))

	type settlementResult struct {
		index  int
		result *types.SettlementResult
	}

	resultChan := make(chan settlementResult, len(intents))

	for i, intent := range intents {
		go func(index int, in *types.PaymentIntent) {
			res, err := e.ProcessPayment(ctx, caller, in)
			if err != nil {
				res = failedResult(in, err)
			}
			resultChan <- settlementResult{index: index, result: res}
		}(i, intent)
	}

	for i := 0; i < len(intents); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			results[res.index] = res.result
		}
	}

	return results, nil
}

func failedResult(intent *types.PaymentIntent, err error) *types.SettlementResult {
	res := &types.SettlementResult{
		Success:   false,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
	if intent != nil {
		res.Payer = intent.Payer
		res.Payee = intent.Payee
		res.Token = intent.Token
		res.Gross = intent.Amount
	}
	return res
}
