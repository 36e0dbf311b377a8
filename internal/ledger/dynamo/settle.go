package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-ledger/internal/ledger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Settle reads the transaction and its account, lets fn decide the terminal state, and
// commits both in one TransactWriteItems call. A lost race on the account version is
// retried with fresh reads; a lost race on the transaction status ends in ErrAlreadyTerminal.
func (s *Store) Settle(ctx context.Context, code string, fn ledger.SettleFunc) (ledger.Transaction, ledger.Account, error) {
	for attempt := 1; attempt <= maxSettleAttempts; attempt++ {
		txn, err := s.GetTransactionByCode(ctx, code)
		if err != nil {
			return ledger.Transaction{}, ledger.Account{}, err
		}
		acct, err := s.GetAccount(ctx, txn.UserID)
		if err != nil {
			return ledger.Transaction{}, ledger.Account{}, err
		}
		if txn.Status.Terminal() {
			return txn, acct, ledger.ErrAlreadyTerminal
		}

		nextTxn, nextAcct, err := fn(txn, acct)
		if err != nil {
			return txn, acct, err
		}

		items := []types.TransactWriteItem{{Update: s.finishTransactionUpdate(nextTxn)}}
		if nextAcct.Version != acct.Version {
			items = append(items, types.TransactWriteItem{Update: s.accountBalanceUpdate(nextAcct, acct.Version)})
		}

		_, err = s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			return nextTxn, nextAcct, nil
		}
		var txc *types.TransactionCanceledException
		if !errors.As(err, &txc) {
			return txn, acct, fmt.Errorf("failed to execute settlement transaction: %w", err)
		}
		if !hasConditionalFailure(txc) {
			return txn, acct, fmt.Errorf("settlement transaction cancelled: %w", err)
		}
		// Either the status or the account version moved; re-read and decide again.
	}
	return ledger.Transaction{}, ledger.Account{}, ledger.ErrConflict
}

func (s *Store) finishTransactionUpdate(t ledger.Transaction) *types.Update {
	expr := "SET #status = :status, balance_before = :before, updated_at = :now"
	values := map[string]types.AttributeValue{
		":status":  &types.AttributeValueMemberS{Value: string(t.Status)},
		":pending": &types.AttributeValueMemberS{Value: string(ledger.StatusPending)},
		":before":  numberAV(t.BalanceBefore),
		":now":     timeAV(t.UpdatedAt),
	}
	if t.BalanceAfter != nil {
		expr += ", balance_after = :after"
		values[":after"] = numberAV(*t.BalanceAfter)
	}
	if t.FailureReason != "" {
		expr += ", failure_reason = :reason"
		values[":reason"] = &types.AttributeValueMemberS{Value: t.FailureReason}
	}
	if t.SettledAt != nil {
		expr += ", settled_at = :settled"
		values[":settled"] = timeAV(*t.SettledAt)
	}
	return &types.Update{
		TableName:                 aws.String(s.TransactionsTableName),
		Key:                       map[string]types.AttributeValue{"transaction_code": &types.AttributeValueMemberS{Value: t.Code}},
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("#status = :pending"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	}
}

func (s *Store) accountBalanceUpdate(a ledger.Account, readVersion int64) *types.Update {
	return &types.Update{
		TableName:           aws.String(s.AccountsTableName),
		Key:                 map[string]types.AttributeValue{"user_id": &types.AttributeValueMemberS{Value: a.UserID}},
		UpdateExpression:    aws.String("SET balance = :balance, version = :next, updated_at = :now"),
		ConditionExpression: aws.String("version = :version"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":balance": numberAV(a.Balance),
			":next":    numberAV(a.Version),
			":version": numberAV(readVersion),
			":now":     timeAV(a.UpdatedAt),
		},
	}
}

func hasConditionalFailure(txc *types.TransactionCanceledException) bool {
	for _, reason := range txc.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func numberAV(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", v)}
}

func timeAV(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(time.RFC3339Nano)}
}
