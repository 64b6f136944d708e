package ledger_test

import (
	"testing"

	"github.com/google/uuid"

	"liqengine/internal/asset"
	"liqengine/internal/ledger"
	fpmath "liqengine/internal/math"
	"liqengine/internal/oracle"
)

const (
	assetUSDC asset.ID = 1
	assetWETH asset.ID = 3
)

func newBook(t *testing.T) (*ledger.Book, *oracle.Converter) {
	t.Helper()

	conv := oracle.NewConverter()
	conv.RegisterFeed("usdc-usd", assetUSDC, oracle.SlotPrimary)
	conv.RegisterFeed("weth-usd", assetWETH, oracle.SlotPrimary)
	push(t, conv, assetUSDC, `{"price":"1"}`)
	push(t, conv, assetWETH, `{"price":"12"}`)

	book := ledger.NewBook("margin-main", ledger.Params{
		DebtAsset:    assetUSDC,
		FeeRate:      150,   // 1.5%
		DiscountRate: 9_600, // 24/25
		MinDebt:      1_000,
	}, conv)
	return book, conv
}

func push(t *testing.T, c *oracle.Converter, id asset.ID, payload string) {
	t.Helper()
	if err := c.ApplyUpdate(oracle.PriceUpdate{Asset: id, Payload: []byte(payload)}); err != nil {
		t.Fatalf("push price: %v", err)
	}
}

func TestBook_Valuation(t *testing.T) {
	book, _ := newBook(t)
	pos := uuid.New()

	if err := book.OpenPosition(pos, uuid.New(), 100_000); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := book.DepositCollateral(pos, assetWETH, 10_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	colVal, debtVal, err := book.Valuation(pos)
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	// 10_000 WETH * 12 = 120_000 USDC, full weight
	if colVal != 120_000 {
		t.Errorf("collateral value: got %d, want 120000", colVal)
	}
	if debtVal != 100_000 {
		t.Errorf("debt value: got %d, want 100000", debtVal)
	}
}

func TestBook_ValuationAppliesRiskWeight(t *testing.T) {
	book, _ := newBook(t)
	pos := uuid.New()

	book.OpenPosition(pos, uuid.New(), 100_000)
	book.DepositCollateral(pos, assetWETH, 10_000)
	book.SetRiskWeight(assetWETH, 8_000) // 80%

	colVal, _, err := book.Valuation(pos)
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if colVal != 96_000 {
		t.Errorf("weighted collateral value: got %d, want 96000", colVal)
	}
}

func TestBook_EligibleBaseline(t *testing.T) {
	book, _ := newBook(t)
	pos := uuid.New()

	book.OpenPosition(pos, uuid.New(), 100_000)
	book.DepositCollateral(pos, assetWETH, 10_000) // 120k collateral vs 100k debt

	eligible, err := book.Eligible(pos)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if eligible {
		t.Error("healthy position should not be eligible")
	}

	book.SetRiskWeight(assetWETH, 8_000) // 96k < 100k
	eligible, err = book.Eligible(pos)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if !eligible {
		t.Error("undercollateralized position should be eligible")
	}
}

func TestTx_CommitPublishes(t *testing.T) {
	book, _ := newBook(t)
	pos := uuid.New()
	wallet := uuid.New()

	book.OpenPosition(pos, uuid.New(), 100_000)
	book.DepositCollateral(pos, assetWETH, 10_000)
	book.Credit(wallet, assetUSDC, 50_000)

	tx := book.Begin()
	if err := tx.Transfer(wallet, uuid.New(), assetUSDC, 20_000); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := tx.ReduceDebt(pos, 20_000); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if err := tx.WithdrawCollateral(pos, assetWETH, 1_000, wallet); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	// Nothing visible before commit
	if debt, _ := book.DebtOf(pos); debt != 100_000 {
		t.Errorf("debt changed before commit: %d", debt)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if debt, _ := book.DebtOf(pos); debt != 80_000 {
		t.Errorf("debt after commit: got %d, want 80000", debt)
	}
	if col, _ := book.CollateralOf(pos, assetWETH); col != 9_000 {
		t.Errorf("collateral after commit: got %d, want 9000", col)
	}
	if bal := book.Balance(wallet, assetUSDC); bal != 30_000 {
		t.Errorf("wallet USDC: got %d, want 30000", bal)
	}
	if bal := book.Balance(wallet, assetWETH); bal != 1_000 {
		t.Errorf("wallet WETH: got %d, want 1000", bal)
	}
}

func TestTx_RollbackDiscards(t *testing.T) {
	book, _ := newBook(t)
	pos := uuid.New()
	wallet := uuid.New()

	book.OpenPosition(pos, uuid.New(), 100_000)
	book.Credit(wallet, assetUSDC, 50_000)

	tx := book.Begin()
	tx.ReduceDebt(pos, 20_000)
	tx.Transfer(wallet, uuid.New(), assetUSDC, 10_000)
	tx.Rollback()

	if debt, _ := book.DebtOf(pos); debt != 100_000 {
		t.Errorf("debt after rollback: got %d, want 100000", debt)
	}
	if bal := book.Balance(wallet, assetUSDC); bal != 50_000 {
		t.Errorf("wallet after rollback: got %d, want 50000", bal)
	}
}

func TestTx_RollbackAfterCommitIsNoop(t *testing.T) {
	book, _ := newBook(t)
	pos := uuid.New()
	book.OpenPosition(pos, uuid.New(), 100_000)

	tx := book.Begin()
	tx.ReduceDebt(pos, 10_000)
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	tx.Rollback()

	if debt, _ := book.DebtOf(pos); debt != 90_000 {
		t.Errorf("debt: got %d, want 90000", debt)
	}
}

func TestTx_ReduceDebtBelowMinimumRejected(t *testing.T) {
	book, _ := newBook(t)
	pos := uuid.New()
	book.OpenPosition(pos, uuid.New(), 100_000)

	tx := book.Begin()
	defer tx.Rollback()

	// Residual would be 500, below MinDebt 1000
	if err := tx.ReduceDebt(pos, 99_500); err == nil {
		t.Error("residual below platform minimum should be rejected")
	}
	// Full repayment to zero is fine
	if err := tx.ReduceDebt(pos, 100_000); err != nil {
		t.Errorf("full repayment rejected: %v", err)
	}
}

func TestTx_TransferInsufficientBalance(t *testing.T) {
	book, _ := newBook(t)
	wallet := uuid.New()
	book.Credit(wallet, assetUSDC, 100)

	tx := book.Begin()
	defer tx.Rollback()

	if err := tx.Transfer(wallet, uuid.New(), assetUSDC, 200); err == nil {
		t.Error("overdraft should be rejected")
	}
}

func TestTx_ValuationSeesStagedState(t *testing.T) {
	book, _ := newBook(t)
	pos := uuid.New()
	book.OpenPosition(pos, uuid.New(), 100_000)
	book.DepositCollateral(pos, assetWETH, 10_000)

	tx := book.Begin()
	defer tx.Rollback()

	tx.ReduceDebt(pos, 40_000)
	tx.WithdrawCollateral(pos, assetWETH, 2_000, uuid.New())

	colVal, debtVal, err := tx.Valuation(pos)
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if debtVal != 60_000 {
		t.Errorf("staged debt value: got %d, want 60000", debtVal)
	}
	if colVal != 96_000 {
		t.Errorf("staged collateral value: got %d, want 96000", colVal)
	}
}

func TestTx_OverlappingCommitsMergeSharedAccount(t *testing.T) {
	book, _ := newBook(t)
	payerA := uuid.New()
	payerB := uuid.New()
	sink := uuid.New()
	book.Credit(payerA, assetUSDC, 10_000)
	book.Credit(payerB, assetUSDC, 10_000)

	// Both transactions credit the same sink before either commits.
	tx1 := book.Begin()
	tx2 := book.Begin()
	if err := tx1.Transfer(payerA, sink, assetUSDC, 100); err != nil {
		t.Fatalf("tx1 transfer: %v", err)
	}
	if err := tx2.Transfer(payerB, sink, assetUSDC, 200); err != nil {
		t.Fatalf("tx2 transfer: %v", err)
	}

	if err := tx1.Commit(); err != nil {
		t.Fatalf("tx1 commit: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("tx2 commit: %v", err)
	}

	if bal := book.Balance(sink, assetUSDC); bal != 300 {
		t.Errorf("sink after both commits: got %d, want 300", bal)
	}
	if bal := book.Balance(payerA, assetUSDC); bal != 9_900 {
		t.Errorf("payer a: got %d, want 9900", bal)
	}
	if bal := book.Balance(payerB, assetUSDC); bal != 9_800 {
		t.Errorf("payer b: got %d, want 9800", bal)
	}
}

func TestTx_CommitRejectsOverdrawnByConcurrentCommit(t *testing.T) {
	book, _ := newBook(t)
	payer := uuid.New()
	book.Credit(payer, assetUSDC, 100)

	// Both transactions spend the same 100 before either commits; the
	// second commit must fail instead of driving the payer negative.
	tx1 := book.Begin()
	tx2 := book.Begin()
	sink1 := uuid.New()
	sink2 := uuid.New()
	if err := tx1.Transfer(payer, sink1, assetUSDC, 100); err != nil {
		t.Fatalf("tx1 transfer: %v", err)
	}
	if err := tx2.Transfer(payer, sink2, assetUSDC, 100); err != nil {
		t.Fatalf("tx2 transfer: %v", err)
	}

	if err := tx1.Commit(); err != nil {
		t.Fatalf("tx1 commit: %v", err)
	}
	if err := tx2.Commit(); err == nil {
		t.Fatal("tx2 commit should fail once the payer is drained")
	}

	if bal := book.Balance(payer, assetUSDC); bal != 0 {
		t.Errorf("payer: got %d, want 0", bal)
	}
	if bal := book.Balance(sink2, assetUSDC); bal != 0 {
		t.Errorf("sink2: got %d, want 0", bal)
	}
}

func TestRegistry_OwnerOf(t *testing.T) {
	book, _ := newBook(t)
	pos := uuid.New()
	book.OpenPosition(pos, uuid.New(), 10_000)

	reg := ledger.NewRegistry()
	reg.Register(book)

	owner, err := reg.OwnerOf(pos)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner.ID() != "margin-main" {
		t.Errorf("got %q, want margin-main", owner.ID())
	}

	if _, err := reg.OwnerOf(uuid.New()); err == nil {
		t.Error("unknown position should fail")
	}
}

func TestBook_ParamsScale(t *testing.T) {
	book, _ := newBook(t)
	p := book.Params()
	if p.DiscountRate <= 0 || p.DiscountRate > fpmath.RateScale {
		t.Errorf("discount rate out of range: %d", p.DiscountRate)
	}
}
