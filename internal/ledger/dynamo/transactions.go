package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"payment-ledger/internal/ledger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// InsertTransaction puts a new transaction; an existing code fails the condition.
func (s *Store) InsertTransaction(ctx context.Context, t ledger.Transaction) error {
	item, err := attributevalue.MarshalMap(fromTransaction(t))
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.TransactionsTableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(transaction_code)"),
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return ledger.ErrDuplicateCode
		}
		return fmt.Errorf("failed to put transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransactionByCode(ctx context.Context, code string) (ledger.Transaction, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.TransactionsTableName),
		Key:            map[string]types.AttributeValue{"transaction_code": &types.AttributeValueMemberS{Value: code}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	if out.Item == nil {
		return ledger.Transaction{}, &ledger.NotFoundError{Kind: "transaction", Key: code}
	}
	var item txnItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return item.toTransaction(), nil
}

func (s *Store) GetTransactionByID(ctx context.Context, id string) (ledger.Transaction, error) {
	items, err := s.queryIndex(ctx, indexByID, "id", id, 1)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(items) == 0 {
		return ledger.Transaction{}, &ledger.NotFoundError{Kind: "transaction", Key: id}
	}
	// GSIs are eventually consistent; re-read the base item by code.
	return s.GetTransactionByCode(ctx, items[0].Code)
}

func (s *Store) FindTransactionByRefund(ctx context.Context, refundID string) (ledger.Transaction, bool, error) {
	items, err := s.queryIndex(ctx, indexByRefund, "refund_id", refundID, 1)
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	if len(items) == 0 {
		return ledger.Transaction{}, false, nil
	}
	t, err := s.GetTransactionByCode(ctx, items[0].Code)
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return t, true, nil
}

// queryIndex returns up to limit items for key = value, newest first.
func (s *Store) queryIndex(ctx context.Context, index, key, value string, limit int32) ([]txnItem, error) {
	out, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.TransactionsTableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#k = :v"),
		ExpressionAttributeNames:  map[string]string{"#k": key},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", index, err)
	}
	var items []txnItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transactions: %w", err)
	}
	return items, nil
}

// ListTransactions queries the user index when a user is given and scans otherwise.
// Type/status/time filters run server side; pagination is applied after filtering.
func (s *Store) ListTransactions(ctx context.Context, f ledger.ListFilter) ([]ledger.Transaction, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	want := f.Offset + limit

	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var filters []string
	if f.Type != "" {
		names["#type"] = "type"
		values[":type"] = &types.AttributeValueMemberS{Value: string(f.Type)}
		filters = append(filters, "#type = :type")
	}
	if f.Status != "" {
		names["#status"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(f.Status)}
		filters = append(filters, "#status = :status")
	}
	var timeConds []string
	if !f.From.IsZero() {
		values[":from"] = &types.AttributeValueMemberS{Value: f.From.UTC().Format(time.RFC3339Nano)}
		timeConds = append(timeConds, "created_at >= :from")
	}
	if !f.To.IsZero() {
		values[":to"] = &types.AttributeValueMemberS{Value: f.To.UTC().Format(time.RFC3339Nano)}
		timeConds = append(timeConds, "created_at < :to")
	}

	var (
		collected []txnItem
		startKey  map[string]types.AttributeValue
	)
	for {
		var (
			page    []map[string]types.AttributeValue
			lastKey map[string]types.AttributeValue
		)
		if f.UserID != "" {
			values[":user"] = &types.AttributeValueMemberS{Value: f.UserID}
			keyCond := "user_id = :user"
			if len(timeConds) == 2 {
				keyCond += " AND created_at BETWEEN :from AND :to"
			} else if len(timeConds) == 1 {
				keyCond += " AND " + timeConds[0]
			}
			in := &dynamodb.QueryInput{
				TableName:                 aws.String(s.TransactionsTableName),
				IndexName:                 aws.String(indexByUser),
				KeyConditionExpression:    aws.String(keyCond),
				ExpressionAttributeValues: values,
				ScanIndexForward:          aws.Bool(false),
				ExclusiveStartKey:         startKey,
			}
			if len(names) > 0 {
				in.ExpressionAttributeNames = names
			}
			if len(filters) > 0 {
				in.FilterExpression = aws.String(strings.Join(filters, " AND "))
			}
			out, err := s.Client.Query(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("failed to query transactions: %w", err)
			}
			page, lastKey = out.Items, out.LastEvaluatedKey
		} else {
			conds := append(append([]string{}, filters...), timeConds...)
			in := &dynamodb.ScanInput{
				TableName:         aws.String(s.TransactionsTableName),
				ExclusiveStartKey: startKey,
			}
			if len(conds) > 0 {
				in.FilterExpression = aws.String(strings.Join(conds, " AND "))
				in.ExpressionAttributeValues = values
			}
			if len(names) > 0 {
				in.ExpressionAttributeNames = names
			}
			out, err := s.Client.Scan(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("failed to scan transactions: %w", err)
			}
			page, lastKey = out.Items, out.LastEvaluatedKey
		}

		var items []txnItem
		if err := attributevalue.UnmarshalListOfMaps(page, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transactions: %w", err)
		}
		collected = append(collected, items...)
		// A scan has no order, so it must be read fully before sorting.
		if len(lastKey) == 0 || (f.UserID != "" && len(collected) >= want) {
			break
		}
		startKey = lastKey
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].CreatedAt.After(collected[j].CreatedAt)
	})
	if f.Offset >= len(collected) {
		return []ledger.Transaction{}, nil
	}
	collected = collected[f.Offset:]
	if len(collected) > limit {
		collected = collected[:limit]
	}
	out := make([]ledger.Transaction, 0, len(collected))
	for _, it := range collected {
		out = append(out, it.toTransaction())
	}
	return out, nil
}
