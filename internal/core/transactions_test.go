package core

import (
	"errors"
	"testing"
	"time"
)

func TestSplitSpending(t *testing.T) {
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	impulse := DefaultImpulseCategories()

	txs := []Transaction{
		{Amount: 3000, Category: "food", Date: day},
		{Amount: 1500, Category: "shopping", Date: day},
		{Amount: 2000, Category: "travel", Date: day},
		{Amount: 5000, Category: "savings", Date: day},
		{Amount: 1200, Category: "rent", Date: day},
	}

	actual, imp, err := SplitSpending(txs, impulse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actual != 7700 {
		t.Fatalf("actual = %d, want 7700 (savings excluded)", actual)
	}
	if imp != 6500 {
		t.Fatalf("impulse = %d, want 6500", imp)
	}
}

func TestSplitSpendingNormalizesCategories(t *testing.T) {
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		{Amount: 100, Category: " Food ", Date: day},
		{Amount: 200, Category: "SAVINGS", Date: day},
	}
	actual, imp, err := SplitSpending(txs, DefaultImpulseCategories())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actual != 100 || imp != 100 {
		t.Fatalf("got actual=%d impulse=%d, want 100/100", actual, imp)
	}
}

func TestSplitSpendingRejectsBadTransactions(t *testing.T) {
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	bads := [][]Transaction{
		{{Amount: 0, Category: "food", Date: day}},
		{{Amount: -10, Category: "food", Date: day}},
		{{Amount: 10, Category: "  ", Date: day}},
	}
	for i, txs := range bads {
		if _, _, err := SplitSpending(txs, DefaultImpulseCategories()); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d expected ErrInvalidInput, got %v", i, err)
		}
	}
}
