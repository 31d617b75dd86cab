package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"mail-pilot/internal/domain"
)

type fakeDynamo struct {
	getOut      *dynamodb.GetItemOutput
	getErr      error
	queryOuts   []*dynamodb.QueryOutput
	queryErr    error
	updateOut   *dynamodb.UpdateItemOutput
	updateErr   error
	txErr       error
	queryIns    []*dynamodb.QueryInput
	lastUpdate  *dynamodb.UpdateItemInput
	lastTxInput *dynamodb.TransactWriteItemsInput
	getCalls    int
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getCalls++
	return f.getOut, f.getErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIns = append(f.queryIns, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdate = in
	return f.updateOut, f.updateErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func makeEntryItem(sessionID string, id int64, status domain.OutcomeStatus, message string) map[string]types.AttributeValue {
	return entryItem(domain.Entry{
		SessionID: sessionID,
		ID:        id,
		Status:    status,
		Message:   message,
		Prompt:    "hi",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TTL:       1767229200,
	})
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "transcripts", time.Hour)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "t", time.Hour)
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, " ", time.Hour)
	require.Error(t, err)
	c, err := New(&fakeDynamo{}, "t", 0)
	require.NoError(t, err)
	require.Equal(t, defaultTTL, c.ttl)
}

func TestEntrySK_SortsNumerically(t *testing.T) {
	require.Less(t, entrySK(9), entrySK(10))
	require.Equal(t, "ENTRY#00000000000000000002", entrySK(2))
}

func TestBegin_NewSession(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	pending, err := c.Begin(context.Background(), "s1", "hi")
	require.NoError(t, err)
	require.Equal(t, int64(2), pending.ID)
	require.Equal(t, domain.StatusPending, pending.Status)

	require.Len(t, db.queryIns, 1)
	require.False(t, *db.queryIns[0].ScanIndexForward)
	require.EqualValues(t, 1, *db.queryIns[0].Limit)

	require.NotNil(t, db.lastTxInput)
	items := db.lastTxInput.TransactItems
	require.Len(t, items, 2)
	require.Equal(t, &types.AttributeValueMemberS{Value: "SESSION#s1"}, items[0].Put.Item["PK"])
	require.Equal(t, &types.AttributeValueMemberS{Value: entrySK(1)}, items[0].Put.Item["SK"])
	require.Equal(t, &types.AttributeValueMemberS{Value: "idle"}, items[0].Put.Item["status"])
	require.Equal(t, &types.AttributeValueMemberS{Value: "pending"}, items[1].Put.Item["status"])
	wantTTL := strconv.FormatInt(time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC).Unix(), 10)
	require.Equal(t, &types.AttributeValueMemberN{Value: wantTTL}, items[1].Put.Item["ttl"])
}

func TestBegin_ContinuesAfterNewest(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{
		makeEntryItem("s1", 4, domain.StatusSuccess, "Prompt successfully sent."),
	}}}}
	c := mustNewClient(t, db)

	pending, err := c.Begin(context.Background(), "s1", "again")
	require.NoError(t, err)
	require.Equal(t, int64(6), pending.ID)
}

func TestBegin_BusyWhenNewestPending(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{
		makeEntryItem("s1", 2, domain.StatusPending, pendingMessage),
	}}}}
	c := mustNewClient(t, db)

	_, err := c.Begin(context.Background(), "s1", "again")
	require.ErrorIs(t, err, ErrSessionBusy)
	require.Nil(t, db.lastTxInput)
}

func TestBegin_LostRaceIsBusy(t *testing.T) {
	db := &fakeDynamo{txErr: &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}}
	c := mustNewClient(t, db)
	_, err := c.Begin(context.Background(), "s1", "hi")
	require.ErrorIs(t, err, ErrSessionBusy)
}

func TestBegin_CanceledForOtherReasonsIsNotBusy(t *testing.T) {
	for _, code := range []string{"ThrottlingError", "TransactionConflict"} {
		db := &fakeDynamo{txErr: &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{{Code: aws.String(code)}},
		}}
		c := mustNewClient(t, db)
		_, err := c.Begin(context.Background(), "s1", "hi")
		require.Error(t, err, code)
		require.NotErrorIs(t, err, ErrSessionBusy, code)
		require.ErrorContains(t, err, "repository: Begin", code)
	}
}

func TestBegin_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("throttled")})
	_, err := c.Begin(context.Background(), "s1", "hi")
	require.ErrorContains(t, err, "throttled")

	c = mustNewClient(t, &fakeDynamo{txErr: errors.New("boom")})
	_, err = c.Begin(context.Background(), "s1", "hi")
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrSessionBusy)
}

func TestResolve_UpdatesPending(t *testing.T) {
	resolved := makeEntryItem("s1", 2, domain.StatusSuccess, "Prompt successfully sent.")
	resolved["webhookResponse"] = &types.AttributeValueMemberS{Value: "Hello!"}
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: resolved}}
	c := mustNewClient(t, db)

	entry, err := c.Resolve(context.Background(), "s1", 2, domain.Outcome{
		Status:  domain.StatusSuccess,
		Message: "Prompt successfully sent.",
		Data:    &domain.OutcomeData{Prompt: "hi", WebhookResponse: "Hello!"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, entry.Status)
	require.Equal(t, "Hello!", entry.WebhookResponse)

	require.Equal(t, "attribute_exists(PK) AND #status = :pending", *db.lastUpdate.ConditionExpression)
	require.Equal(t, &types.AttributeValueMemberS{Value: "Hello!"}, db.lastUpdate.ExpressionAttributeValues[":webhookResponse"])
	require.Equal(t, &types.AttributeValueMemberS{Value: entrySK(2)}, db.lastUpdate.Key["SK"])
}

func TestResolve_AlreadyTerminalReturnsStored(t *testing.T) {
	stored := makeEntryItem("s1", 2, domain.StatusError, "The service failed. Status: 500.")
	db := &fakeDynamo{
		updateErr: &types.ConditionalCheckFailedException{},
		getOut:    &dynamodb.GetItemOutput{Item: stored},
	}
	c := mustNewClient(t, db)

	entry, err := c.Resolve(context.Background(), "s1", 2, domain.Outcome{Status: domain.StatusSuccess, Message: "ok"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, entry.Status)
	require.Equal(t, "The service failed. Status: 500.", entry.Message)
	require.Equal(t, 1, db.getCalls)
}

func TestResolve_Missing(t *testing.T) {
	db := &fakeDynamo{
		updateErr: &types.ConditionalCheckFailedException{},
		getOut:    &dynamodb.GetItemOutput{},
	}
	c := mustNewClient(t, db)
	_, err := c.Resolve(context.Background(), "s1", 2, domain.Outcome{Status: domain.StatusSuccess})
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestList_Paginates(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				makeEntryItem("s1", 1, domain.StatusIdle, "hi"),
			},
			LastEvaluatedKey: entryKey("s1", 1),
		},
		{
			Items: []map[string]types.AttributeValue{
				makeEntryItem("s1", 2, domain.StatusSuccess, "Prompt successfully sent."),
			},
		},
	}}
	c := mustNewClient(t, db)

	entries, err := c.List(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(1), entries[0].ID)
	require.Equal(t, int64(2), entries[1].ID)
	require.Equal(t, "s1", entries[1].SessionID)
	require.Len(t, db.queryIns, 2)
	require.NotNil(t, db.queryIns[1].ExclusiveStartKey)
}

func TestList_MalformedItem(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{
		{"PK": &types.AttributeValueMemberS{Value: "SESSION#s1"}},
	}}}}
	c := mustNewClient(t, db)
	_, err := c.List(context.Background(), "s1")
	require.ErrorContains(t, err, "missing attribute")
}
