package settlement

import (
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clobcommon "clobx/internal/common"
)

const settlementGasLimit = 120_000

// encodeFillCalldata packs the trade id and price/size into a fixed layout
// the settlement program's event log can be correlated against. It carries
// no method selector because this deployment's program dispatches on
// calldata length rather than a 4-byte signature.
func encodeFillCalldata(trade clobcommon.Trade) []byte {
	buf := make([]byte, 8+8+8)
	binary.BigEndian.PutUint64(buf[0:8], uint64(trade.ID))
	binary.BigEndian.PutUint64(buf[8:16], trade.Price)
	binary.BigEndian.PutUint64(buf[16:24], trade.Size)
	return buf
}

func newLegacySettlementTx(nonce uint64, to common.Address, gasPrice *big.Int, data []byte) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      settlementGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
}

func signTx(tx *types.Transaction, chainID *big.Int, key *ecdsa.PrivateKey) (*types.Transaction, error) {
	signer := types.NewEIP155Signer(chainID)
	return types.SignTx(tx, signer, key)
}
