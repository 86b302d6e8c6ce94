package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestCreditRepositoryGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, credits, updated_at FROM user_credits WHERE user_id = ?")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "credits", "updated_at"}))

	balance, err := NewCreditRepository(db).Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if balance != nil {
		t.Fatalf("expected nil balance, got %+v", balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreditRepositoryGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_credits WHERE user_id = ?")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "credits", "updated_at"}).AddRow("u1", 42, now))

	balance, err := NewCreditRepository(db).Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if balance == nil || balance.Credits != 42 {
		t.Fatalf("unexpected balance %+v", balance)
	}
}

func TestCreditRepositoryDeductIsConditional(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	deduct := regexp.QuoteMeta("UPDATE user_credits SET credits = credits - ?, updated_at = NOW()") + ".*" + regexp.QuoteMeta("WHERE user_id = ? AND credits >= ?")
	mock.ExpectExec(deduct).WithArgs(2, "u1", 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(deduct).WithArgs(2, "u1", 2).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewCreditRepository(db)
	ok, err := repo.Deduct(context.Background(), "u1", 2)
	if err != nil || !ok {
		t.Fatalf("first deduct = %v, %v; want true", ok, err)
	}
	ok, err = repo.Deduct(context.Background(), "u1", 2)
	if err != nil || ok {
		t.Fatalf("second deduct = %v, %v; want false", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreditRepositoryAdd(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_credits (user_id, credits) VALUES (?, ?)")).
		WithArgs("u1", 450).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT credits FROM user_credits WHERE user_id = ?")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(450))
	mock.ExpectCommit()

	balance, err := NewCreditRepository(db).Add(context.Background(), "u1", 450)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if balance != 450 {
		t.Fatalf("balance = %d, want 450", balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
