package mocks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/mock"
)

// DynamoDBAPI is a testify mock of dynamo.DynamoDBAPI. Option funcs are not matched.
type DynamoDBAPI struct {
	mock.Mock
}

func (_m *DynamoDBAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	ret := _m.Called(ctx, params)
	var r0 *dynamodb.GetItemOutput
	if rf, ok := ret.Get(0).(func(context.Context, *dynamodb.GetItemInput) *dynamodb.GetItemOutput); ok {
		r0 = rf(ctx, params)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*dynamodb.GetItemOutput)
	}
	return r0, ret.Error(1)
}

func (_m *DynamoDBAPI) PutItem(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	ret := _m.Called(ctx, params)
	var r0 *dynamodb.PutItemOutput
	if rf, ok := ret.Get(0).(func(context.Context, *dynamodb.PutItemInput) *dynamodb.PutItemOutput); ok {
		r0 = rf(ctx, params)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*dynamodb.PutItemOutput)
	}
	return r0, ret.Error(1)
}

func (_m *DynamoDBAPI) Query(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	ret := _m.Called(ctx, params)
	var r0 *dynamodb.QueryOutput
	if rf, ok := ret.Get(0).(func(context.Context, *dynamodb.QueryInput) *dynamodb.QueryOutput); ok {
		r0 = rf(ctx, params)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*dynamodb.QueryOutput)
	}
	return r0, ret.Error(1)
}

func (_m *DynamoDBAPI) Scan(ctx context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	ret := _m.Called(ctx, params)
	var r0 *dynamodb.ScanOutput
	if rf, ok := ret.Get(0).(func(context.Context, *dynamodb.ScanInput) *dynamodb.ScanOutput); ok {
		r0 = rf(ctx, params)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*dynamodb.ScanOutput)
	}
	return r0, ret.Error(1)
}

func (_m *DynamoDBAPI) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	ret := _m.Called(ctx, params)
	var r0 *dynamodb.TransactWriteItemsOutput
	if rf, ok := ret.Get(0).(func(context.Context, *dynamodb.TransactWriteItemsInput) *dynamodb.TransactWriteItemsOutput); ok {
		r0 = rf(ctx, params)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*dynamodb.TransactWriteItemsOutput)
	}
	return r0, ret.Error(1)
}
