package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/digkill/BananaStudio/internal/models"
)

func newTransaction() *models.Transaction {
	return &models.Transaction{
		UserID:                "u1",
		Amount:                decimal.RequireFromString("49.99"),
		Currency:              "USD",
		Status:                models.TransactionStatusCompleted,
		PlanID:                models.PlanPro,
		CreditsAdded:          2400,
		Provider:              models.ProviderPayPal,
		ProviderTransactionID: "CAP-1",
		Metadata:              []byte(`{"id":"CAP-1"}`),
	}
}

func TestRecordWithCreditCommitsBothWrites(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs("u1", sqlmock.AnyArg(), "USD", "completed", "PRO", 2400, "paypal", "CAP-1", `{"id":"CAP-1"}`).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_credits")).
		WithArgs("u1", 2400).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT credits FROM user_credits")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(2400))
	mock.ExpectCommit()

	txn := newTransaction()
	balance, err := NewTransactionRepository(db).RecordWithCredit(context.Background(), txn)
	if err != nil {
		t.Fatalf("RecordWithCredit: %v", err)
	}
	if balance != 2400 || txn.ID != 7 {
		t.Fatalf("balance=%d id=%d", balance, txn.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordWithCreditDuplicateRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'CAP-1'"})
	mock.ExpectRollback()

	_, err = NewTransactionRepository(db).RecordWithCredit(context.Background(), newTransaction())
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("err = %v, want ErrDuplicateTransaction", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordWithCreditBalanceFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_credits")).WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	if _, err := NewTransactionRepository(db).RecordWithCredit(context.Background(), newTransaction()); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFindByProviderIDMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM transactions WHERE provider_transaction_id = ?")).
		WithArgs("CAP-9").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	txn, err := NewTransactionRepository(db).FindByProviderID(context.Background(), "CAP-9")
	if err != nil || txn != nil {
		t.Fatalf("FindByProviderID = %+v, %v", txn, err)
	}
}
