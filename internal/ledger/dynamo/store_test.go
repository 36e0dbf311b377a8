package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"payment-ledger/internal/ledger"
	"payment-ledger/internal/ledger/dynamo/mocks"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestStore() (*Store, *mocks.DynamoDBAPI) {
	client := new(mocks.DynamoDBAPI)
	return New(client, "accounts", "transactions"), client
}

func onTable(table string) any {
	return mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.ToString(in.TableName) == table
	})
}

func pendingDeposit() ledger.Transaction {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return ledger.Transaction{
		ID:            "txn_01",
		UserID:        "user1",
		Code:          "TX20260304000001",
		Type:          ledger.TypeDeposit,
		Method:        ledger.MethodVNPay,
		Amount:        100000,
		Status:        ledger.StatusPending,
		BalanceBefore: 0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestInsertTransaction(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		store, client := newTestStore()
		client.On("PutItem", mock.Anything, mock.AnythingOfType("*dynamodb.PutItemInput")).Return(&dynamodb.PutItemOutput{}, nil).Once()

		err := store.InsertTransaction(context.Background(), pendingDeposit())

		assert.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("Duplicate Code", func(t *testing.T) {
		store, client := newTestStore()
		client.On("PutItem", mock.Anything, mock.AnythingOfType("*dynamodb.PutItemInput")).
			Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}).Once()

		err := store.InsertTransaction(context.Background(), pendingDeposit())

		assert.ErrorIs(t, err, ledger.ErrDuplicateCode)
		client.AssertExpectations(t)
	})

	t.Run("Put Fails", func(t *testing.T) {
		store, client := newTestStore()
		client.On("PutItem", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

		err := store.InsertTransaction(context.Background(), pendingDeposit())

		assert.Error(t, err)
		assert.NotErrorIs(t, err, ledger.ErrDuplicateCode)
		assert.Contains(t, err.Error(), "failed to put transaction")
	})
}

func TestGetTransactionByCodeNotFound(t *testing.T) {
	store, client := newTestStore()
	client.On("GetItem", mock.Anything, onTable("transactions")).Return(&dynamodb.GetItemOutput{}, nil).Once()

	_, err := store.GetTransactionByCode(context.Background(), "TX-missing")

	assert.True(t, ledger.IsNotFound(err))
	client.AssertExpectations(t)
}

func TestSettle(t *testing.T) {
	txn := pendingDeposit()
	acct := accountItem{UserID: "user1", Balance: 0, Version: 3}

	t.Run("Approved Deposit", func(t *testing.T) {
		store, client := newTestStore()
		txnAV, err := attributevalue.MarshalMap(fromTransaction(txn))
		require.NoError(t, err)
		acctAV, err := attributevalue.MarshalMap(acct)
		require.NoError(t, err)

		client.On("GetItem", mock.Anything, onTable("transactions")).Return(&dynamodb.GetItemOutput{Item: txnAV}, nil).Once()
		client.On("GetItem", mock.Anything, onTable("accounts")).Return(&dynamodb.GetItemOutput{Item: acctAV}, nil).Once()
		client.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			if len(in.TransactItems) != 2 {
				return false
			}
			txUpdate := in.TransactItems[0].Update
			acctUpdate := in.TransactItems[1].Update
			return aws.ToString(txUpdate.ConditionExpression) == "#status = :pending" &&
				aws.ToString(acctUpdate.ConditionExpression) == "version = :version"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		gotTxn, gotAcct, err := store.Settle(context.Background(), txn.Code, func(t ledger.Transaction, a ledger.Account) (ledger.Transaction, ledger.Account, error) {
			after := a.Balance + t.Amount
			t.Status = ledger.StatusSuccess
			t.BalanceAfter = &after
			a.Balance = after
			a.Version++
			return t, a, nil
		})

		require.NoError(t, err)
		assert.Equal(t, ledger.StatusSuccess, gotTxn.Status)
		assert.Equal(t, int64(100000), gotAcct.Balance)
		client.AssertExpectations(t)
	})

	t.Run("Already Terminal", func(t *testing.T) {
		store, client := newTestStore()
		done := txn
		done.Status = ledger.StatusSuccess
		txnAV, _ := attributevalue.MarshalMap(fromTransaction(done))
		acctAV, _ := attributevalue.MarshalMap(acct)

		client.On("GetItem", mock.Anything, onTable("transactions")).Return(&dynamodb.GetItemOutput{Item: txnAV}, nil).Once()
		client.On("GetItem", mock.Anything, onTable("accounts")).Return(&dynamodb.GetItemOutput{Item: acctAV}, nil).Once()

		called := false
		got, _, err := store.Settle(context.Background(), txn.Code, func(t ledger.Transaction, a ledger.Account) (ledger.Transaction, ledger.Account, error) {
			called = true
			return t, a, nil
		})

		assert.ErrorIs(t, err, ledger.ErrAlreadyTerminal)
		assert.False(t, called)
		assert.Equal(t, ledger.StatusSuccess, got.Status)
		client.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
	})

	t.Run("Lost Race Then Replay", func(t *testing.T) {
		store, client := newTestStore()
		pendingAV, _ := attributevalue.MarshalMap(fromTransaction(txn))
		done := txn
		done.Status = ledger.StatusSuccess
		doneAV, _ := attributevalue.MarshalMap(fromTransaction(done))
		acctAV, _ := attributevalue.MarshalMap(acct)

		client.On("GetItem", mock.Anything, onTable("transactions")).Return(&dynamodb.GetItemOutput{Item: pendingAV}, nil).Once()
		client.On("GetItem", mock.Anything, onTable("accounts")).Return(&dynamodb.GetItemOutput{Item: acctAV}, nil).Twice()
		client.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{{Code: aws.String("ConditionalCheckFailed")}},
		}).Once()
		client.On("GetItem", mock.Anything, onTable("transactions")).Return(&dynamodb.GetItemOutput{Item: doneAV}, nil).Once()

		_, _, err := store.Settle(context.Background(), txn.Code, func(t ledger.Transaction, a ledger.Account) (ledger.Transaction, ledger.Account, error) {
			t.Status = ledger.StatusFailed
			return t, a, nil
		})

		assert.ErrorIs(t, err, ledger.ErrAlreadyTerminal)
		client.AssertExpectations(t)
	})

	t.Run("Denied Skips Account Write", func(t *testing.T) {
		store, client := newTestStore()
		txnAV, _ := attributevalue.MarshalMap(fromTransaction(txn))
		acctAV, _ := attributevalue.MarshalMap(acct)

		client.On("GetItem", mock.Anything, onTable("transactions")).Return(&dynamodb.GetItemOutput{Item: txnAV}, nil).Once()
		client.On("GetItem", mock.Anything, onTable("accounts")).Return(&dynamodb.GetItemOutput{Item: acctAV}, nil).Once()
		client.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			return len(in.TransactItems) == 1
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		got, _, err := store.Settle(context.Background(), txn.Code, func(t ledger.Transaction, a ledger.Account) (ledger.Transaction, ledger.Account, error) {
			t.Status = ledger.StatusFailed
			return t, a, nil
		})

		require.NoError(t, err)
		assert.Equal(t, ledger.StatusFailed, got.Status)
		client.AssertExpectations(t)
	})
}

func TestCreateAccountExisting(t *testing.T) {
	store, client := newTestStore()
	acctAV, _ := attributevalue.MarshalMap(accountItem{UserID: "user1", Balance: 500, Version: 2})

	client.On("PutItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}).Once()
	client.On("GetItem", mock.Anything, onTable("accounts")).Return(&dynamodb.GetItemOutput{Item: acctAV}, nil).Once()

	got, err := store.CreateAccount(context.Background(), "user1", time.Now())

	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)
	client.AssertExpectations(t)
}
