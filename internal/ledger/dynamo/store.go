// Package dynamo is a DynamoDB-backed ledger.Store.
//
// Tables:
//   - accounts: partition key user_id
//   - transactions: partition key transaction_code (uniqueness comes from the key itself),
//     GSIs id-index (id), user-index (user_id, created_at), refund-index (refund_id, created_at)
//
// Terminal writes are a TransactWriteItems pair: the transaction update is conditioned on
// status = pending and the account update on the version read before settling.
package dynamo

import (
	"context"

	"payment-ledger/internal/ledger"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DynamoDBAPI is the subset of the DynamoDB client used by Store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

const (
	indexByID     = "id-index"
	indexByUser   = "user-index"
	indexByRefund = "refund-index"

	maxSettleAttempts = 3
)

type Store struct {
	Client                DynamoDBAPI
	AccountsTableName     string
	TransactionsTableName string
}

func New(client DynamoDBAPI, accountsTable, transactionsTable string) *Store {
	return &Store{
		Client:                client,
		AccountsTableName:     accountsTable,
		TransactionsTableName: transactionsTable,
	}
}

var _ ledger.Store = (*Store)(nil)
