package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-escrow/pkg/cache"
	"github.com/code-payments/code-escrow/pkg/escrow"
	"github.com/code-payments/code-escrow/pkg/metrics"
	"github.com/code-payments/code-escrow/pkg/rate"
	"github.com/code-payments/code-escrow/pkg/retry"
	"github.com/code-payments/code-escrow/pkg/retry/backoff"
	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

const (
	metricsStructName = "escrow.client"
)

var (
	// ErrInvalidOffer indicates an account exists at the address, but it
	// isn't an offer.
	ErrInvalidOffer = errors.New("invalid offer")
)

// Host is the runtime transactions are submitted to.
type Host interface {
	ProcessTransaction(ctx context.Context, txn solana.Transaction) (*runtime.ExecutionResult, error)
	GetLatestBlockhash(ctx context.Context) (solana.Blockhash, uint64)
	GetAccountInfo(ctx context.Context, address ed25519.PublicKey) (*solana.AccountInfo, error)
}

// Client builds, signs and submits escrow transactions.
type Client struct {
	log       *logrus.Entry
	conf      *conf
	host      Host
	addresses cache.Cache
	limiter   rate.Limiter
}

// NewClient returns a new Client.
func NewClient(host Host, configProvider ConfigProvider) *Client {
	ctx := context.Background()
	conf := configProvider()

	var limiter rate.Limiter = &rate.NoLimiter{}
	if limit := conf.submitRateLimit.Get(ctx); limit > 0 {
		limiter = rate.NewLocalRateLimiter(limit)
	}

	return &Client{
		log:       logrus.StandardLogger().WithField("type", "escrow/client"),
		conf:      conf,
		host:      host,
		addresses: cache.NewCache(int(conf.addressCacheBudget.Get(ctx))),
		limiter:   limiter,
	}
}

type derivedAddress struct {
	address ed25519.PublicKey
	bump    uint8
}

// GetOfferAddress returns the address and bump of a maker's offer.
func (c *Client) GetOfferAddress(strategy escrow.Strategy, maker ed25519.PublicKey, id uint64) (ed25519.PublicKey, uint8, error) {
	key := fmt.Sprintf("offer:%s:%s:%d", strategy, base58.Encode(maker), id)
	if cached, ok := c.addresses.Retrieve(key); ok {
		derived := cached.(*derivedAddress)
		return derived.address, derived.bump, nil
	}

	address, bump, err := escrow.GetOfferAddress(&escrow.GetOfferAddressArgs{
		Strategy: strategy,
		Maker:    maker,
		Id:       id,
	})
	if err != nil {
		return nil, 0, err
	}

	c.cacheAddress(key, &derivedAddress{address: address, bump: bump})
	return address, bump, nil
}

// GetVaultAddress returns the vault of an offer made with escrow.StrategyVault.
func (c *Client) GetVaultAddress(offer, mint, tokenProgram ed25519.PublicKey) (ed25519.PublicKey, error) {
	key := fmt.Sprintf("vault:%s:%s:%s", base58.Encode(offer), base58.Encode(mint), base58.Encode(tokenProgram))
	if cached, ok := c.addresses.Retrieve(key); ok {
		return cached.(*derivedAddress).address, nil
	}

	address, bump, err := escrow.GetVaultAddress(&escrow.GetVaultAddressArgs{
		Offer:        offer,
		Mint:         mint,
		TokenProgram: tokenProgram,
	})
	if err != nil {
		return nil, err
	}

	c.cacheAddress(key, &derivedAddress{address: address, bump: bump})
	return address, nil
}

func (c *Client) getAssociatedAccount(wallet, mint, tokenProgram ed25519.PublicKey) (ed25519.PublicKey, error) {
	key := fmt.Sprintf("ata:%s:%s:%s", base58.Encode(wallet), base58.Encode(mint), base58.Encode(tokenProgram))
	if cached, ok := c.addresses.Retrieve(key); ok {
		return cached.(*derivedAddress).address, nil
	}

	address, bump, err := token.GetAssociatedAccountAndBump(wallet, mint, tokenProgram)
	if err != nil {
		return nil, err
	}

	c.cacheAddress(key, &derivedAddress{address: address, bump: bump})
	return address, nil
}

func (c *Client) cacheAddress(key string, derived *derivedAddress) {
	// Concurrent derivations of the same address race to insert it
	if err := c.addresses.Insert(key, derived, 1); err != nil && err != cache.ErrKeyExists {
		c.log.WithError(err).WithField("key", key).Warn("failure caching address")
	}
}

// GetOffer returns the offer stored at address, along with the strategy of
// the program that owns it.
func (c *Client) GetOffer(ctx context.Context, address ed25519.PublicKey) (*escrow.OfferAccount, escrow.Strategy, error) {
	info, err := c.host.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to get account info")
	} else if info == nil {
		return nil, 0, escrow.ErrOfferNotFound
	}

	strategy, err := escrow.StrategyFromProgramID(info.Owner)
	if err != nil {
		return nil, 0, ErrInvalidOffer
	}

	var offer escrow.OfferAccount
	if err := offer.Unmarshal(info.Data); err != nil {
		return nil, 0, ErrInvalidOffer
	}
	return &offer, strategy, nil
}

type MakeOfferArgs struct {
	Strategy escrow.Strategy

	// Payer pays the transaction fee. If nil, the maker pays.
	Payer ed25519.PrivateKey
	Maker ed25519.PrivateKey

	TokenMintA ed25519.PublicKey
	TokenMintB ed25519.PublicKey

	Id                  uint64
	TokenAOfferedAmount uint64
	TokenBWantedAmount  uint64
}

// MakeOffer creates an offer, returning its address. Failures caused by the
// escrow program are classified with escrow.ErrorFromTransaction.
func (c *Client) MakeOffer(ctx context.Context, args *MakeOfferArgs) (ed25519.PublicKey, *runtime.ExecutionResult, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "MakeOffer")
	defer tracer.End()

	maker := args.Maker.Public().(ed25519.PublicKey)

	tokenProgram, err := c.getTokenProgram(ctx, args.TokenMintA)
	if err != nil {
		return nil, nil, err
	}

	offer, _, err := c.GetOfferAddress(args.Strategy, maker, args.Id)
	if err != nil {
		return nil, nil, err
	}

	makerTokenAccountA, err := c.getAssociatedAccount(maker, args.TokenMintA, tokenProgram)
	if err != nil {
		return nil, nil, err
	}

	var vault ed25519.PublicKey
	if args.Strategy == escrow.StrategyVault {
		vault, err = c.GetVaultAddress(offer, args.TokenMintA, tokenProgram)
		if err != nil {
			return nil, nil, err
		}
	}

	ix := escrow.NewMakeOfferInstruction(
		&escrow.MakeOfferInstructionAccounts{
			Strategy:           args.Strategy,
			Maker:              maker,
			TokenMintA:         args.TokenMintA,
			TokenMintB:         args.TokenMintB,
			MakerTokenAccountA: makerTokenAccountA,
			Offer:              offer,
			Vault:              vault,
			TokenProgram:       tokenProgram,
		},
		&escrow.MakeOfferInstructionArgs{
			Id:                  args.Id,
			TokenAOfferedAmount: args.TokenAOfferedAmount,
			TokenBWantedAmount:  args.TokenBWantedAmount,
		},
	)

	result, err := c.submit(ctx, signers(args.Payer, args.Maker), ix)
	if err != nil {
		tracer.OnError(err)
		return nil, result, escrow.ErrorFromTransaction(err)
	}
	return offer, result, nil
}

type TakeOfferArgs struct {
	// Payer pays the transaction fee. If nil, the taker pays.
	Payer ed25519.PrivateKey
	Taker ed25519.PrivateKey

	Offer ed25519.PublicKey
}

// TakeOffer completes the trade of an offer. Failures caused by the escrow
// program are classified with escrow.ErrorFromTransaction.
func (c *Client) TakeOffer(ctx context.Context, args *TakeOfferArgs) (*runtime.ExecutionResult, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "TakeOffer")
	defer tracer.End()

	taker := args.Taker.Public().(ed25519.PublicKey)

	offer, strategy, err := c.GetOffer(ctx, args.Offer)
	if err != nil {
		return nil, err
	}

	tokenProgram, err := c.getTokenProgram(ctx, offer.TokenMintA)
	if err != nil {
		return nil, err
	}

	accounts := &escrow.TakeOfferInstructionAccounts{
		Strategy:     strategy,
		Taker:        taker,
		Maker:        offer.Maker,
		TokenMintA:   offer.TokenMintA,
		TokenMintB:   offer.TokenMintB,
		Offer:        args.Offer,
		TokenProgram: tokenProgram,
	}

	for _, ata := range []struct {
		dst    *ed25519.PublicKey
		wallet ed25519.PublicKey
		mint   ed25519.PublicKey
	}{
		{&accounts.TakerTokenAccountA, taker, offer.TokenMintA},
		{&accounts.TakerTokenAccountB, taker, offer.TokenMintB},
		{&accounts.MakerTokenAccountA, offer.Maker, offer.TokenMintA},
		{&accounts.MakerTokenAccountB, offer.Maker, offer.TokenMintB},
	} {
		*ata.dst, err = c.getAssociatedAccount(ata.wallet, ata.mint, tokenProgram)
		if err != nil {
			return nil, err
		}
	}

	if strategy == escrow.StrategyVault {
		accounts.Vault, err = c.GetVaultAddress(args.Offer, offer.TokenMintA, tokenProgram)
		if err != nil {
			return nil, err
		}
	}

	ix := escrow.NewTakeOfferInstruction(accounts, &escrow.TakeOfferInstructionArgs{})

	result, err := c.submit(ctx, signers(args.Payer, args.Taker), ix)
	if err != nil {
		tracer.OnError(err)
		return result, escrow.ErrorFromTransaction(err)
	}
	return result, nil
}

func (c *Client) getTokenProgram(ctx context.Context, mint ed25519.PublicKey) (ed25519.PublicKey, error) {
	_, program, err := token.NewClient(c.host, mint).GetMint(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get mint")
	}
	return program, nil
}

// submit processes a transaction, retrying while its accounts are locked by
// other transactions.
func (c *Client) submit(ctx context.Context, signers []ed25519.PrivateKey, instructions ...solana.Instruction) (*runtime.ExecutionResult, error) {
	payer := base58.Encode(signers[0].Public().(ed25519.PublicKey))

	log := c.log.WithFields(logrus.Fields{
		"method": "submit",
		"payer":  payer,
	})

	if err := c.limiter.Wait(ctx, payer); err != nil {
		return nil, errors.Wrap(err, "submission rate limited")
	}

	var result *runtime.ExecutionResult
	attempts, err := retry.Retry(
		func() error {
			txn := solana.NewTransaction(signers[0].Public().(ed25519.PublicKey), instructions...)

			blockhash, _ := c.host.GetLatestBlockhash(ctx)
			txn.SetBlockhash(blockhash)
			if err := txn.Sign(signers...); err != nil {
				return errors.Wrap(err, "failed to sign transaction")
			}

			var err error
			result, err = c.host.ProcessTransaction(ctx, txn)
			return err
		},
		retry.Context(ctx),
		retry.RetriableErrors(solana.TransactionErrorAccountInUse),
		retry.Limit(uint(c.conf.maxSubmitAttempts.Get(ctx))),
		retry.Backoff(backoff.Constant(c.conf.submitBackoff.Get(ctx)), c.conf.submitBackoff.Get(ctx)),
	)
	if err != nil {
		log.WithError(err).WithField("attempts", attempts).Debug("transaction failed")
		return result, err
	}

	if attempts > 1 {
		log.WithField("attempts", attempts).Debug("transaction succeeded after retrying")
	}
	return result, nil
}

func signers(payer, signer ed25519.PrivateKey) []ed25519.PrivateKey {
	if payer == nil || bytes.Equal(payer, signer) {
		return []ed25519.PrivateKey{signer}
	}
	return []ed25519.PrivateKey{payer, signer}
}
