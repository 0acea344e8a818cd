package stellar

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"
)

const (
	NetworkTestnet = "testnet"
	NetworkPublic  = "public"

	memoTypeText = "text"
	txTimeout    = 300
)

// horizonAPI is the part of horizonclient.ClientInterface this package uses.
type horizonAPI interface {
	StreamPayments(ctx context.Context, request horizonclient.OperationRequest, handler horizonclient.OperationHandler) error
	TransactionDetail(txHash string) (hProtocol.Transaction, error)
	FeeStats() (hProtocol.FeeStats, error)
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
	SubmitTransaction(transaction *txnbuild.Transaction) (hProtocol.Transaction, error)
}

// Payment is one outbound native payment.
type Payment struct {
	Destination string
	Amount      decimal.Decimal
	Memo        string
	BaseFee     int64
}

// Client adapts Horizon to the payment feed, memo lookup and submission
// contracts of the services package.
type Client struct {
	horizon    horizonAPI
	account    string
	passphrase string
	signer     *keypair.Full
	log        *zap.Logger
}

type Config struct {
	Network          string
	HorizonURL       string
	ReceivingAddress string
	// SignerSecret may be empty for processes that never submit.
	SignerSecret string
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	var hc *horizonclient.Client
	passphrase := network.TestNetworkPassphrase
	switch cfg.Network {
	case NetworkPublic:
		hc = horizonclient.DefaultPublicNetClient
		passphrase = network.PublicNetworkPassphrase
	case NetworkTestnet, "":
		hc = horizonclient.DefaultTestNetClient
	default:
		return nil, fmt.Errorf("unknown stellar network %q", cfg.Network)
	}
	if cfg.HorizonURL != "" {
		hc = &horizonclient.Client{HorizonURL: cfg.HorizonURL, HTTP: http.DefaultClient}
	}

	c := newClient(hc, cfg.ReceivingAddress, passphrase, log)
	if cfg.SignerSecret != "" {
		kp, err := keypair.ParseFull(cfg.SignerSecret)
		if err != nil {
			return nil, fmt.Errorf("invalid signer secret: %w", err)
		}
		c.signer = kp
	}
	return c, nil
}

func newClient(h horizonAPI, account, passphrase string, log *zap.Logger) *Client {
	return &Client{horizon: h, account: account, passphrase: passphrase, log: log}
}

// Stream implements services.PaymentStream on the account's payments
// endpoint. A handler error cancels the stream and is returned.
func (c *Client) Stream(ctx context.Context, cursor string, handler func(context.Context, models.PaymentEvent) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var handlerErr error
	req := horizonclient.OperationRequest{ForAccount: c.account, Cursor: cursor}
	err := c.horizon.StreamPayments(ctx, req, func(op operations.Operation) {
		if handlerErr != nil {
			return
		}
		evt, err := toPaymentEvent(op)
		if err == nil {
			err = handler(ctx, evt)
		}
		if err != nil {
			handlerErr = err
			cancel()
		}
	})
	if handlerErr != nil {
		return handlerErr
	}
	if err != nil {
		return fmt.Errorf("horizon payment stream: %w", err)
	}
	return errors.New("horizon payment stream closed")
}

func toPaymentEvent(op operations.Operation) (models.PaymentEvent, error) {
	evt := models.PaymentEvent{
		PagingToken:     op.PagingToken(),
		Type:            op.GetType(),
		TransactionHash: op.GetTransactionHash(),
	}
	p, ok := op.(operations.Payment)
	if !ok {
		return evt, nil
	}
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return evt, fmt.Errorf("parse amount %q of %s: %w", p.Amount, evt.TransactionHash, err)
	}
	evt.AssetType = p.Asset.Type
	evt.From = p.From
	evt.To = p.To
	evt.Amount = amount
	evt.CreatedAt = p.LedgerCloseTime
	return evt, nil
}

// TransactionMemo implements services.MemoResolver. Only text memos can
// carry an order memo; other memo types resolve to "".
func (c *Client) TransactionMemo(_ context.Context, txHash string) (string, error) {
	tx, err := c.horizon.TransactionDetail(txHash)
	if err != nil {
		return "", fmt.Errorf("transaction detail %s: %w", txHash, err)
	}
	if tx.MemoType != memoTypeText {
		return "", nil
	}
	return tx.Memo, nil
}

// BaseFee returns the mode of recently charged fees, never below the
// protocol minimum.
func (c *Client) BaseFee(_ context.Context) (int64, error) {
	stats, err := c.horizon.FeeStats()
	if err != nil {
		return 0, fmt.Errorf("fee stats: %w", err)
	}
	if stats.FeeCharged.Mode < txnbuild.MinBaseFee {
		return txnbuild.MinBaseFee, nil
	}
	return stats.FeeCharged.Mode, nil
}

// SubmitPayment builds, signs and submits a native payment from the
// platform account. A Horizon 429 comes back as apperrors.ErrRateLimited.
func (c *Client) SubmitPayment(_ context.Context, p Payment) (string, error) {
	if c.signer == nil {
		return "", errors.New("stellar client has no signer configured")
	}
	if _, err := keypair.ParseAddress(p.Destination); err != nil {
		return "", apperrors.ErrInvalidInput.WithDetail("destination %q is not a valid account", p.Destination)
	}

	account, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: c.signer.Address()})
	if err != nil {
		return "", classify(err, "load source account")
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		BaseFee:              p.BaseFee,
		Memo:                 txnbuild.MemoText(p.Memo),
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeout)},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: p.Destination,
				Amount:      p.Amount.StringFixed(7),
				Asset:       txnbuild.NativeAsset{},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	tx, err = tx.Sign(c.passphrase, c.signer)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	resp, err := c.horizon.SubmitTransaction(tx)
	if err != nil {
		return "", classify(err, "submit transaction")
	}
	c.log.Info("payment submitted",
		zap.String("hash", resp.Hash),
		zap.String("destination", p.Destination),
		zap.String("amount", p.Amount.String()))
	return resp.Hash, nil
}

// classify must see the error as horizonclient returned it; GetError does
// not look through fmt wrapping.
func classify(err error, op string) error {
	if hErr := horizonclient.GetError(err); hErr != nil && hErr.Problem.Status == http.StatusTooManyRequests {
		return apperrors.ErrRateLimited.Wrap(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
