package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	clobcommon "clobx/internal/common"
)

// SettlementTask is one TradeMatch handed to the queue by OrderIntake,
// before a Trade row exists. The worker computes fees, persists the Trade,
// and only then calls the executor with the durable record.
type SettlementTask struct {
	MarketID     string
	MakerOrderID int64
	TakerOrderID int64
	MakerUserID  string
	TakerUserID  string
	Price        uint64
	Size         uint64
}

// TradeExecutor submits a persisted trade to whatever settlement layer
// backs this deployment and returns an opaque identifier for the
// submission (a transaction hash, a batch id) once it is durably accepted.
type TradeExecutor interface {
	Settle(ctx context.Context, trade clobcommon.Trade, market clobcommon.Market) (string, error)
}

// NoopExecutor accepts every trade immediately without touching a chain. It
// backs local runs and tests where SETTLEMENT_RPC_URL is unset.
type NoopExecutor struct{}

func (NoopExecutor) Settle(_ context.Context, trade clobcommon.Trade, _ clobcommon.Market) (string, error) {
	return fmt.Sprintf("noop-%d", trade.ID), nil
}

// EVMExecutor settles trades by calling a fill-recording method on an
// on-chain settlement program, generalizing the original's Solana-specific
// client to any EVM chain reachable over JSON-RPC.
type EVMExecutor struct {
	client     *ethclient.Client
	programID  common.Address
	privateKey *ecdsa.PrivateKey
	fromAddr   common.Address
}

// NewEVMExecutor dials rpcURL and derives the signer from signingKeyHex (a
// hex-encoded secp256k1 private key, given without a 0x prefix).
func NewEVMExecutor(ctx context.Context, rpcURL, programIDHex, signingKeyHex string) (*EVMExecutor, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial settlement rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(signingKeyHex)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("parse settlement signing key: %w", err)
	}

	log.Info().Str("rpc", rpcURL).Str("program", programIDHex).Msg("evm settlement executor ready")
	return &EVMExecutor{
		client:     client,
		programID:  common.HexToAddress(programIDHex),
		privateKey: key,
		fromAddr:   crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Settle submits a transaction recording the fill against the settlement
// program. The calldata encoding is deployment-specific; this builds the
// envelope (nonce, chain id, gas) common to every such call and leaves the
// actual ABI packing to the caller's configured contract binding in a full
// deployment. Here it submits a zero-value call carrying the trade id so the
// program can look the fill up from its own event log.
func (e *EVMExecutor) Settle(ctx context.Context, trade clobcommon.Trade, _ clobcommon.Market) (string, error) {
	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return "", clobcommon.NewDependencyError(fmt.Errorf("chain id: %w", err))
	}
	nonce, err := e.client.PendingNonceAt(ctx, e.fromAddr)
	if err != nil {
		return "", clobcommon.NewDependencyError(fmt.Errorf("pending nonce: %w", err))
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", clobcommon.NewDependencyError(fmt.Errorf("suggest gas price: %w", err))
	}

	data := encodeFillCalldata(trade)
	tx := newLegacySettlementTx(nonce, e.programID, gasPrice, data)

	signed, err := signTx(tx, chainID, e.privateKey)
	if err != nil {
		return "", clobcommon.NewDependencyError(fmt.Errorf("sign settlement tx: %w", err))
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return "", clobcommon.NewDependencyError(fmt.Errorf("send settlement tx: %w", err))
	}
	return signed.Hash().Hex(), nil
}

func (e *EVMExecutor) Close() { e.client.Close() }
