package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yieldloop/engine/internal/logger"
	"github.com/yieldloop/engine/internal/types"
	"github.com/yieldloop/engine/internal/utils"
)

// Error definitions for the EVM submission layer
var (
	ErrUnknownNetwork = errors.New("no router configured for network")
	ErrUnknownAsset   = errors.New("no token address configured for asset")
	ErrInvalidAmount  = errors.New("action amount is invalid")
)

// nativeDecimals is the precision of the chain's native fee unit.
const nativeDecimals = 18

// receiptPollInterval is how often AwaitConfirmation re-checks for a receipt.
const receiptPollInterval = 2 * time.Second

// routerABI is the minimal surface of the yield router contracts the engine
// submits through. Every supported network deploys the same interface.
const routerABI = `[
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"rebalance","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// EVMClient is the live Client implementation on top of an EVM JSON-RPC node.
type EVMClient struct {
	log     zerolog.Logger
	client  *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	router  abi.ABI
	routers map[string]common.Address
	tokens  map[string]common.Address
}

// NewEVMClient connects to the node, validates the signer key, and resolves
// the router and token address books.
func NewEVMClient(rpcURL, signerKeyHex string, chainID int64, routers, tokens map[string]string) (*EVMClient, error) {
	if rpcURL == "" {
		return nil, errors.New("chain RPC endpoint cannot be empty")
	}
	if len(routers) == 0 {
		return nil, errors.New("at least one network router is required")
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC %s: %w", rpcURL, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(signerKeyHex, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	routerAddrs := make(map[string]common.Address, len(routers))
	for network, addr := range routers {
		if !common.IsHexAddress(addr) {
			client.Close()
			return nil, fmt.Errorf("invalid router address %q for network %s", addr, network)
		}
		routerAddrs[network] = common.HexToAddress(addr)
	}
	tokenAddrs := make(map[string]common.Address, len(tokens))
	for symbol, addr := range tokens {
		if !common.IsHexAddress(addr) {
			client.Close()
			return nil, fmt.Errorf("invalid token address %q for asset %s", addr, symbol)
		}
		tokenAddrs[symbol] = common.HexToAddress(addr)
	}

	evm := &EVMClient{
		log:     logger.GetForComponent("evm_client"),
		client:  client,
		chainID: big.NewInt(chainID),
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		router:  parsedABI,
		routers: routerAddrs,
		tokens:  tokenAddrs,
	}

	evm.log.Info().
		Str("from", evm.from.Hex()).
		Int64("chainID", chainID).
		Int("routers", len(routerAddrs)).
		Msg("EVM client initialized")
	return evm, nil
}

// EstimateFee simulates the call and returns gasLimit * gasPrice in native units.
func (e *EVMClient) EstimateFee(ctx context.Context, req TxRequest) (decimal.Decimal, error) {
	router, data, err := e.buildCall(req)
	if err != nil {
		return decimal.Zero, err
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From: e.from,
		To:   &router,
		Data: data,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("gas estimation failed: %w", err)
	}

	feeWei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	fee, err := utils.BigIntToDecimal(feeWei, nativeDecimals)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fee conversion failed: %w", err)
	}

	e.log.Debug().
		Str("network", req.Network).
		Str("actionType", string(req.ActionType)).
		Uint64("gasLimit", gasLimit).
		Str("estimatedFee", fee.String()).
		Msg("Gas fee estimated")
	return fee, nil
}

// Submit signs and broadcasts a single transaction for the request.
func (e *EVMClient) Submit(ctx context.Context, req TxRequest) (string, error) {
	router, data, err := e.buildCall(req)
	if err != nil {
		return "", err
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From: e.from,
		To:   &router,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("gas estimation failed: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, router, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	txHash := signedTx.Hash().Hex()
	e.log.Info().
		Str("txHash", txHash).
		Str("network", req.Network).
		Str("actionType", string(req.ActionType)).
		Str("asset", req.Asset).
		Msg("Transaction broadcast")
	return txHash, nil
}

// AwaitConfirmation polls for the transaction receipt until it is mined or
// the timeout elapses. A timeout resolves to types.ErrConfirmationTimeout so
// the caller can flag the execution for manual reconciliation.
func (e *EVMClient) AwaitConfirmation(ctx context.Context, txHash string, timeout time.Duration) (Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil {
			gasFeeWei := new(big.Int).SetUint64(receipt.GasUsed)
			if receipt.EffectiveGasPrice != nil {
				gasFeeWei = gasFeeWei.Mul(gasFeeWei, receipt.EffectiveGasPrice)
			}
			gasFee, convErr := utils.BigIntToDecimal(gasFeeWei, nativeDecimals)
			if convErr != nil {
				return Confirmation{}, fmt.Errorf("gas fee conversion failed: %w", convErr)
			}
			return Confirmation{
				Success: receipt.Status == ethtypes.ReceiptStatusSuccessful,
				GasUsed: int64(receipt.GasUsed),
				GasFee:  gasFee,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return Confirmation{}, fmt.Errorf("failed to fetch receipt for %s: %w", txHash, err)
		}

		select {
		case <-ctx.Done():
			return Confirmation{}, fmt.Errorf("transaction %s: %w", txHash, types.ErrConfirmationTimeout)
		case <-ticker.C:
		}
	}
}

// Close releases the underlying RPC connection.
func (e *EVMClient) Close() error {
	e.client.Close()
	return nil
}

// buildCall resolves the router and encodes the calldata for the request.
func (e *EVMClient) buildCall(req TxRequest) (common.Address, []byte, error) {
	router, ok := e.routers[req.Network]
	if !ok {
		return common.Address{}, nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, req.Network)
	}
	token, ok := e.tokens[req.Asset]
	if !ok {
		return common.Address{}, nil, fmt.Errorf("%w: %s", ErrUnknownAsset, req.Asset)
	}

	var method string
	switch req.ActionType {
	case types.ActionDeposit:
		method = "deposit"
	case types.ActionWithdraw:
		method = "withdraw"
	case types.ActionRebalance:
		method = "rebalance"
	default:
		return common.Address{}, nil, fmt.Errorf("unsupported action type: %q", req.ActionType)
	}

	amountWei, err := utils.DecimalToBigInt(req.Amount, nativeDecimals)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount.String())
	}
	data, err := e.router.Pack(method, token, amountWei)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to pack %s calldata: %w", method, err)
	}
	return router, data, nil
}
