package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-ledger/internal/ledger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CreateAccount puts a zero-balance account unless one already exists.
func (s *Store) CreateAccount(ctx context.Context, userID string, now time.Time) (ledger.Account, error) {
	item, err := attributevalue.MarshalMap(accountItem{UserID: userID, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to marshal account: %w", err)
	}
	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.AccountsTableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(user_id)"),
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if !errors.As(err, &condCheckFailed) {
			return ledger.Account{}, fmt.Errorf("failed to put account: %w", err)
		}
	}
	return s.GetAccount(ctx, userID)
}

func (s *Store) GetAccount(ctx context.Context, userID string) (ledger.Account, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.AccountsTableName),
		Key:            map[string]types.AttributeValue{"user_id": &types.AttributeValueMemberS{Value: userID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	if out.Item == nil {
		return ledger.Account{}, &ledger.NotFoundError{Kind: "account", Key: userID}
	}
	var a accountItem
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return ledger.Account{}, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return a.toAccount(), nil
}
