package runtime

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-escrow/pkg/ledger"
	"github.com/code-payments/code-escrow/pkg/metrics"
	"github.com/code-payments/code-escrow/pkg/solana"
	compute_budget "github.com/code-payments/code-escrow/pkg/solana/computebudget"
	"github.com/code-payments/code-escrow/pkg/solana/system"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

const (
	metricsStructName = "solana.runtime"

	transactionEventName       = "RuntimeTransaction"
	transactionSucceededMetric = "Runtime/TransactionSucceeded"
	transactionFailedMetric    = "Runtime/TransactionFailed"
	transactionDurationMetric  = "Runtime/TransactionDuration"
)

// NativeLoaderKey owns every built-in program account.
//
// Current key: NativeLoader1111111111111111111111111111111
var NativeLoaderKey ed25519.PublicKey

func init() {
	var err error

	NativeLoaderKey, err = base58.Decode("NativeLoader1111111111111111111111111111111")
	if err != nil {
		panic(err)
	}
}

// ExecutionResult describes a processed transaction. It is returned for failed
// transactions as well, alongside the transaction error.
type ExecutionResult struct {
	Signature            solana.Signature
	Slot                 uint64
	Fee                  uint64
	ComputeUnitsConsumed uint64
	Logs                 []string
}

// Runtime executes transactions against a ledger.Store. Transactions that
// share a writable account are serialized, and every transaction is applied
// to the store atomically or not at all.
type Runtime struct {
	log  *logrus.Entry
	conf *conf

	store    ledger.Store
	programs map[string]Program
	locker   accountLocker

	blockhashMu sync.Mutex
	blockhashes *blockhashQueue
}

// Option configures a Runtime.
type Option func(r *Runtime)

// WithProgram registers an additional program, making it invokable at id.
func WithProgram(id ed25519.PublicKey, program Program) Option {
	return func(r *Runtime) {
		r.programs[string(id)] = program
	}
}

// New returns a Runtime over the store, with the system, token, token-2022,
// associated token account and compute budget programs built in.
func New(store ledger.Store, configProvider ConfigProvider, opts ...Option) *Runtime {
	conf := configProvider()
	ctx := context.Background()

	var genesis solana.Blockhash
	if _, err := rand.Read(genesis[:]); err != nil {
		genesis = sha256.Sum256([]byte(time.Now().String()))
	}

	r := &Runtime{
		log:         logrus.StandardLogger().WithField("type", "solana/runtime"),
		conf:        conf,
		store:       store,
		programs:    make(map[string]Program),
		blockhashes: newBlockhashQueue(genesis, int(conf.maxRecentBlockhashes.Get(ctx))),
	}

	if conf.lockWait.Get(ctx) {
		r.locker = newWaitingLocker(uint(conf.lockStripes.Get(ctx)))
	} else {
		r.locker = newRejectingLocker()
	}

	r.programs[string(system.ProgramKey[:])] = ProgramFunc(processSystemInstruction)
	r.programs[string(token.ProgramKey)] = ProgramFunc(processTokenInstruction)
	r.programs[string(token.Program2022Key)] = ProgramFunc(processTokenInstruction)
	r.programs[string(token.AssociatedTokenAccountProgramKey)] = ProgramFunc(processAssociatedTokenAccountInstruction)
	r.programs[string(compute_budget.ProgramKey)] = ProgramFunc(processComputeBudgetInstruction)

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ProcessTransaction verifies and executes a transaction, committing its
// effects and charging its fee only if every instruction succeeds.
//
// Transaction failures are returned as *solana.TransactionError.
func (r *Runtime) ProcessTransaction(ctx context.Context, txn solana.Transaction) (*ExecutionResult, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "ProcessTransaction")
	defer tracer.End()

	start := time.Now()

	result := &ExecutionResult{}
	if len(txn.Signatures) > 0 {
		result.Signature = txn.Signatures[0]
	}

	log := r.log.WithFields(logrus.Fields{
		"method":    "ProcessTransaction",
		"signature": result.Signature.ToBase58(),
	})

	err := r.processTransaction(ctx, &txn, result)

	metrics.RecordDuration(ctx, transactionDurationMetric, time.Since(start))
	metrics.RecordEvent(ctx, transactionEventName, map[string]interface{}{
		"signature":     result.Signature.ToBase58(),
		"compute_units": result.ComputeUnitsConsumed,
		"fee":           result.Fee,
		"success":       err == nil,
	})

	if err != nil {
		metrics.RecordCount(ctx, transactionFailedMetric, 1)
		tracer.OnError(err)

		var txErr *solana.TransactionError
		if errors.As(err, &txErr) {
			log.WithError(err).Debug("transaction failed")
		} else {
			log.WithError(err).Warn("failure processing transaction")
		}
		return result, err
	}

	metrics.RecordCount(ctx, transactionSucceededMetric, 1)
	log.WithField("compute_units", result.ComputeUnitsConsumed).Trace("transaction processed")
	return result, nil
}

func (r *Runtime) processTransaction(ctx context.Context, txn *solana.Transaction, result *ExecutionResult) error {
	m := &txn.Message

	if len(txn.Signatures) == 0 {
		return solana.NewTransactionError(solana.TransactionErrorMissingSignatureForFee)
	}
	if err := m.Sanitize(); err != nil {
		return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
	}
	if len(txn.Signatures) != int(m.Header.NumSignatures) {
		return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
	}
	if len(txn.Marshal()) > solana.MaxTransactionSize {
		return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
	}

	// Program derived addresses have no private key, and can never sign a
	// transaction directly
	for i := 0; i < int(m.Header.NumSignatures); i++ {
		if !solana.IsOnCurve(m.Accounts[i]) {
			return solana.NewTransactionError(solana.TransactionErrorSignatureFailure)
		}
	}
	if !txn.VerifySignatures() {
		return solana.NewTransactionError(solana.TransactionErrorSignatureFailure)
	}

	for _, ix := range m.Instructions {
		programID := m.Accounts[ix.ProgramIndex]
		if _, ok := r.programs[string(programID)]; !ok {
			return solana.NewTransactionError(solana.TransactionErrorProgramAccountNotFound)
		}
		if m.IsWritable(int(ix.ProgramIndex)) {
			return solana.NewTransactionError(solana.TransactionErrorInvalidWritableAccount)
		}
	}

	budget, err := r.getComputeBudget(ctx, m)
	if err != nil {
		return err
	}
	fee := r.getFee(ctx, m, budget)
	result.Fee = fee

	var writable, readonly [][]byte
	for i, account := range m.Accounts {
		if m.IsWritable(i) {
			writable = append(writable, account)
		} else {
			readonly = append(readonly, account)
		}
	}

	unlock, ok := r.locker.lock(writable, readonly)
	if !ok {
		return solana.NewTransactionError(solana.TransactionErrorAccountInUse)
	}
	defer unlock()

	r.blockhashMu.Lock()
	if !r.blockhashes.isRecent(m.RecentBlockhash) {
		r.blockhashMu.Unlock()
		return solana.NewTransactionError(solana.TransactionErrorBlockhashNotFound)
	}
	if r.blockhashes.isProcessed(m.RecentBlockhash, txn.Signatures[0]) {
		r.blockhashMu.Unlock()
		return solana.NewTransactionError(solana.TransactionErrorDuplicateSignature)
	}
	_, result.Slot = r.blockhashes.latest()
	r.blockhashMu.Unlock()

	execErr := r.execute(ctx, txn, budget, fee, result)

	var txErr *solana.TransactionError
	if execErr != nil && !errors.As(execErr, &txErr) {
		// Not the transaction's fault, so it isn't recorded
		return execErr
	}

	r.blockhashMu.Lock()
	r.blockhashes.record(m.RecentBlockhash, txn.Signatures[0], txErr)
	r.blockhashMu.Unlock()

	return execErr
}

type computeBudget struct {
	limit uint64
	price uint64
}

func (r *Runtime) getComputeBudget(ctx context.Context, m *solana.Message) (*computeBudget, error) {
	defaultLimit := r.conf.defaultComputeUnitLimit.Get(ctx)
	maxLimit := r.conf.maxComputeUnitLimit.Get(ctx)

	var limit *uint64
	var price uint64
	var numInstructions uint64
	for i, ix := range m.Instructions {
		if !isComputeBudgetProgram(m.Accounts[ix.ProgramIndex]) {
			numInstructions++
			continue
		}

		if len(ix.Data) == 0 {
			return nil, solana.NewInstructionError(i, solana.InstructionErrorInvalidInstructionData)
		}

		switch ix.Data[0] {
		case computeBudgetCommandSetComputeUnitLimit:
			requested, err := compute_budget.ParseSetComputeUnitLimitIxnData(ix.Data)
			if err != nil || limit != nil {
				return nil, solana.NewInstructionError(i, solana.InstructionErrorInvalidInstructionData)
			}
			value := uint64(requested)
			limit = &value
		case computeBudgetCommandSetComputeUnitPrice:
			requested, err := compute_budget.ParseSetComputeUnitPriceIxnData(ix.Data)
			if err != nil {
				return nil, solana.NewInstructionError(i, solana.InstructionErrorInvalidInstructionData)
			}
			price = requested
		default:
			return nil, solana.NewInstructionError(i, solana.InstructionErrorInvalidInstructionData)
		}
	}

	budget := &computeBudget{
		limit: defaultLimit * numInstructions,
		price: price,
	}
	if limit != nil {
		budget.limit = *limit
	}
	if budget.limit > maxLimit {
		budget.limit = maxLimit
	}
	return budget, nil
}

// getFee returns the base fee for the transaction's signatures, plus the
// prioritization fee for its requested compute.
func (r *Runtime) getFee(ctx context.Context, m *solana.Message, budget *computeBudget) uint64 {
	fee := r.conf.lamportsPerSignature.Get(ctx) * uint64(m.Header.NumSignatures)

	// Compute unit price is in micro-lamports
	const microLamportsPerLamport = 1_000_000
	priority := budget.price * budget.limit
	fee += (priority + microLamportsPerLamport - 1) / microLamportsPerLamport

	return fee
}

func (r *Runtime) execute(ctx context.Context, txn *solana.Transaction, budget *computeBudget, fee uint64, result *ExecutionResult) error {
	m := &txn.Message

	loaded, err := r.loadAccounts(ctx, m.Accounts)
	if err != nil {
		return err
	}

	tx := &transactionContext{
		accounts:     make(map[string]*solana.AccountInfo, len(loaded)),
		computeLimit: budget.limit,
	}
	for i, account := range loaded {
		tx.accounts[string(m.Accounts[i])] = account.Clone()
	}
	defer func() {
		result.ComputeUnitsConsumed = tx.computeUsed
		result.Logs = tx.logs
	}()

	payer := loaded[0]
	if payer.Lamports == 0 {
		return solana.NewTransactionError(solana.TransactionErrorAccountNotFound)
	}
	if !bytes.Equal(payer.Owner, system.ProgramKey[:]) || len(payer.Data) > 0 {
		return solana.NewTransactionError(solana.TransactionErrorInvalidAccountForFee)
	}
	if payer.Lamports < fee {
		return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
	}

	maxDepth := int(r.conf.maxCallDepth.Get(ctx))
	for i, ix := range m.Instructions {
		accounts := make([]*AccountRef, len(ix.Accounts))
		for j, index := range ix.Accounts {
			key := m.Accounts[index]
			accounts[j] = &AccountRef{
				Key:        key,
				IsSigner:   m.IsSigner(int(index)),
				IsWritable: m.IsWritable(int(index)),
				state:      tx.accounts[string(key)],
			}
		}

		ic := &InvokeContext{
			ctx:      ctx,
			rt:       r,
			tx:       tx,
			maxDepth: maxDepth,
		}
		if err := ic.execute(m.Accounts[ix.ProgramIndex], accounts, ix.Data); err != nil {
			return solana.NewInstructionError(i, err)
		}
	}

	var preTotal, postTotal uint64
	var changes []*ledger.Change
	for i, key := range m.Accounts {
		pre := loaded[i]
		post := tx.accounts[string(key)]

		preTotal += pre.Lamports
		postTotal += post.Lamports

		if i == 0 {
			continue
		}
		if pre.Equal(post) {
			continue
		}
		if !m.IsWritable(i) {
			return solana.NewTransactionError(solana.TransactionErrorInvalidWritableAccount)
		}
		if !isRentExempt(post.Lamports, len(post.Data)) && !isRentPayingTransitionAllowed(pre, post) {
			return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForRent)
		}

		changes = append(changes, &ledger.Change{Address: key, Account: post})
	}

	if preTotal != postTotal {
		return solana.NewTransactionError(solana.TransactionErrorInternal)
	}

	// The fee payer is charged last, and only on success
	payerPost := tx.accounts[string(m.Accounts[0])]
	if payerPost.Lamports < fee {
		return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
	}
	payerPost.Lamports -= fee
	if !isRentExempt(payerPost.Lamports, len(payerPost.Data)) && !isRentPayingTransitionAllowed(payer, payerPost) {
		return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForRent)
	}
	changes = append(changes, &ledger.Change{Address: m.Accounts[0], Account: payerPost})

	commitCtx, cancel := context.WithTimeout(ctx, r.conf.commitTimeout.Get(ctx))
	defer cancel()

	if err := r.store.Commit(commitCtx, changes); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// isRentPayingTransitionAllowed permits an account that was already below the
// rent exempt minimum to remain so, provided it wasn't resized or debited.
func isRentPayingTransitionAllowed(pre, post *solana.AccountInfo) bool {
	if pre.Lamports == 0 {
		return false
	}
	if isRentExempt(pre.Lamports, len(pre.Data)) {
		return false
	}
	return len(pre.Data) == len(post.Data) && post.Lamports >= pre.Lamports
}

// loadAccounts returns the state of every account. Missing accounts load as
// empty, system owned accounts.
func (r *Runtime) loadAccounts(ctx context.Context, keys []ed25519.PublicKey) ([]*solana.AccountInfo, error) {
	stored, err := r.store.GetMany(ctx, keys...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load accounts")
	}

	loaded := make([]*solana.AccountInfo, len(keys))
	for i, key := range keys {
		if _, ok := r.programs[string(key)]; ok {
			loaded[i] = r.programAccount(key)
			continue
		}

		if stored[i] == nil {
			loaded[i] = &solana.AccountInfo{
				Owner: append(ed25519.PublicKey{}, system.ProgramKey[:]...),
			}
			continue
		}
		loaded[i] = stored[i]
	}
	return loaded, nil
}

func (r *Runtime) programAccount(id ed25519.PublicKey) *solana.AccountInfo {
	return &solana.AccountInfo{
		Owner:      append(ed25519.PublicKey{}, NativeLoaderKey...),
		Lamports:   1,
		Executable: true,
	}
}

// RequestAirdrop credits lamports to an address, creating it as a system
// account if required.
func (r *Runtime) RequestAirdrop(ctx context.Context, address ed25519.PublicKey, lamports uint64) (solana.Signature, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "RequestAirdrop")
	defer tracer.End()

	var sig solana.Signature
	if _, err := rand.Read(sig[:]); err != nil {
		return sig, errors.Wrap(err, "failed to generate signature")
	}

	if _, ok := r.programs[string(address)]; ok {
		return sig, errors.New("cannot airdrop to a program")
	}

	unlock, ok := r.locker.lock([][]byte{address}, nil)
	if !ok {
		return sig, solana.NewTransactionError(solana.TransactionErrorAccountInUse)
	}
	defer unlock()

	loaded, err := r.loadAccounts(ctx, []ed25519.PublicKey{address})
	if err != nil {
		tracer.OnError(err)
		return sig, err
	}

	account := loaded[0]
	if account.Lamports+lamports < account.Lamports {
		return sig, errors.New("airdrop overflows account balance")
	}
	account.Lamports += lamports

	if err := r.store.Commit(ctx, []*ledger.Change{{Address: address, Account: account}}); err != nil {
		tracer.OnError(err)
		return sig, errors.Wrap(err, "failed to commit airdrop")
	}

	r.blockhashMu.Lock()
	bh, _ := r.blockhashes.latest()
	r.blockhashes.record(bh, sig, nil)
	r.blockhashMu.Unlock()

	r.log.WithFields(logrus.Fields{
		"method":   "RequestAirdrop",
		"address":  base58.Encode(address),
		"lamports": lamports,
	}).Trace("airdrop processed")

	return sig, nil
}

// GetAccountInfo returns the account at the address, or nil if it doesn't
// exist.
func (r *Runtime) GetAccountInfo(ctx context.Context, address ed25519.PublicKey) (*solana.AccountInfo, error) {
	if _, ok := r.programs[string(address)]; ok {
		return r.programAccount(address), nil
	}

	account, err := r.store.Get(ctx, address)
	if err == ledger.ErrAccountNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return account, nil
}

// GetBalance returns the lamport balance of the address.
func (r *Runtime) GetBalance(ctx context.Context, address ed25519.PublicKey) (uint64, error) {
	account, err := r.GetAccountInfo(ctx, address)
	if err != nil {
		return 0, err
	} else if account == nil {
		return 0, nil
	}
	return account.Lamports, nil
}

// GetTokenAccountBalance returns the token amount held by a token account.
func (r *Runtime) GetTokenAccountBalance(ctx context.Context, address ed25519.PublicKey) (uint64, error) {
	info, err := r.GetAccountInfo(ctx, address)
	if err != nil {
		return 0, err
	} else if info == nil {
		return 0, token.ErrAccountNotFound
	}

	if !token.IsTokenProgram(info.Owner) {
		return 0, token.ErrInvalidTokenAccount
	}

	var account token.Account
	if !account.Unmarshal(info.Data) || account.State == token.AccountStateUninitialized {
		return 0, token.ErrInvalidTokenAccount
	}
	return account.Amount, nil
}

// GetMinimumBalanceForRentExemption returns the lamports required for an
// account of dataLen bytes to be rent exempt.
func (r *Runtime) GetMinimumBalanceForRentExemption(dataLen uint64) uint64 {
	return MinimumBalanceForRentExemption(dataLen)
}

// GetLatestBlockhash returns the most recent blockhash and its slot.
func (r *Runtime) GetLatestBlockhash(_ context.Context) (solana.Blockhash, uint64) {
	r.blockhashMu.Lock()
	defer r.blockhashMu.Unlock()

	return r.blockhashes.latest()
}

// AdvanceBlockhash moves the runtime to a new slot with a fresh blockhash.
// Blockhashes older than the configured maximum age expire, and transactions
// referencing them are rejected with BlockhashNotFound.
func (r *Runtime) AdvanceBlockhash(ctx context.Context) solana.Blockhash {
	maxAge := int(r.conf.maxRecentBlockhashes.Get(ctx))

	r.blockhashMu.Lock()
	defer r.blockhashMu.Unlock()

	return r.blockhashes.advance(maxAge)
}

// GetSignatureStatus returns the status of a processed transaction, or nil if
// the signature is unknown or has expired.
func (r *Runtime) GetSignatureStatus(_ context.Context, sig solana.Signature) (*SignatureStatus, error) {
	r.blockhashMu.Lock()
	defer r.blockhashMu.Unlock()

	status, ok := r.blockhashes.status(sig)
	if !ok {
		return nil, nil
	}
	return status, nil
}
