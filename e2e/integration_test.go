//go:build e2e

// Package e2e runs the dynamo facade against a DynamoDB endpoint over the
// wire: a real AWS account, a running dynamock server, or an in-process
// dynamock server when neither is configured.
//
// Run with: go test -tags=e2e -v ./e2e/...
//
//	DYNAMOCK_E2E_PROFILE   shared config profile of a real account
//	DYNAMOCK_E2E_ENDPOINT  URL of a running dynamock server
package e2e

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/google/uuid"

	"github.com/jacentio/dynamock/ddbapi"
	"github.com/jacentio/dynamock/dynamo"
	"github.com/jacentio/dynamock/server"
	"github.com/jacentio/dynamock/store"
	"github.com/jacentio/dynamock/stream"
)

// Table names are unique per run to avoid conflicts in shared accounts.
const tablePrefix = "dynamock-e2e"

var (
	testID     string
	docsTable  string
	usersTable string

	ddbClient     *dynamodb.Client
	streamsClient *dynamodbstreams.Client
	db            *dynamo.DB

	// remote is true when the tables live in a real account and must be
	// deleted afterwards.
	remote bool
)

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	docsTable = fmt.Sprintf("%s-docs-%s", tablePrefix, testID)
	usersTable = fmt.Sprintf("%s-users-%s", tablePrefix, testID)

	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("Tables:\n")
	fmt.Printf("  - Docs: %s\n", docsTable)
	fmt.Printf("  - Users: %s\n", usersTable)

	ctx := context.Background()
	opts, cleanup, err := backend()
	if err != nil {
		fmt.Printf("Failed to start backend: %v\n", err)
		os.Exit(1)
	}

	ddbClient, err = ddbapi.NewRemote(ctx, opts)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	if !remote {
		streamsClient, err = ddbapi.NewRemoteStreams(ctx, opts)
		if err != nil {
			fmt.Printf("Failed to build streams client: %v\n", err)
			os.Exit(1)
		}
	}

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	cfg := dynamo.DefaultConfig()
	cfg.PageSize = 2
	db = dynamo.New(ddbClient, cfg)

	code := m.Run()

	if remote {
		deleteTables(ctx)
	}
	cleanup()
	os.Exit(code)
}

// backend picks the endpoint under test, starting an in-process server
// when none is configured.
func backend() (ddbapi.RemoteOptions, func(), error) {
	if profile := os.Getenv("DYNAMOCK_E2E_PROFILE"); profile != "" {
		remote = true
		fmt.Printf("Backend: AWS profile %s\n", profile)
		return ddbapi.RemoteOptions{Profile: profile}, func() {}, nil
	}

	local := ddbapi.RemoteOptions{
		Region:          "local",
		AccessKeyID:     "dynamock",
		SecretAccessKey: "dynamock",
	}
	if endpoint := os.Getenv("DYNAMOCK_E2E_ENDPOINT"); endpoint != "" {
		fmt.Printf("Backend: %s\n", endpoint)
		local.Endpoint = endpoint
		return local, func() {}, nil
	}

	cfg := store.DefaultConfig()
	cfg.RequireTables = true
	st, err := store.New(cfg)
	if err != nil {
		return ddbapi.RemoteOptions{}, nil, err
	}
	pub := stream.NewPublisher(stream.DefaultConfig(), nil)
	st.AddListener(pub)
	ts := httptest.NewServer(server.New(ddbapi.NewLocal(st), pub, server.DefaultConfig(), nil))

	fmt.Printf("Backend: in-process dynamock at %s\n", ts.URL)
	local.Endpoint = ts.URL
	return local, func() {
		ts.Close()
		st.Close()
	}, nil
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")

	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(docsTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("author"), AttributeType: types.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String("by-author"),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("author"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", docsTable, err)
	}

	_, err = ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(usersTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", usersTable, err)
	}

	for _, tableName := range []string{docsTable, usersTable} {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", tableName, err)
		}
	}

	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) {
	fmt.Println("Deleting test tables...")
	for _, tableName := range []string{docsTable, usersTable} {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", tableName, err)
		}
	}
}

// --- Item Tests ---

func TestStoreAndGet(t *testing.T) {
	ctx := context.Background()
	pk := "USER#" + uuid.New().String()

	err := db.StoreItem(ctx, docsTable, map[string]any{
		"pk":    pk,
		"sk":    "DOC#1",
		"title": "Hello",
		"tags":  []string{"a", "b"},
		"score": 42,
	})
	if err != nil {
		t.Fatalf("StoreItem failed: %v", err)
	}

	got, err := db.GetItemByPKSK(ctx, docsTable, pk, "DOC#1")
	if err != nil {
		t.Fatalf("GetItemByPKSK failed: %v", err)
	}
	if got["title"] != "Hello" {
		t.Errorf("expected title Hello, got %v", got["title"])
	}
	if fmt.Sprint(got["score"]) != "42" {
		t.Errorf("expected score 42, got %v", got["score"])
	}

	missing, err := db.GetItemByPKSK(ctx, docsTable, pk, "DOC#404")
	if err != nil {
		t.Fatalf("GetItemByPKSK failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing item, got %v", missing)
	}
}

func TestHashOnlyTable(t *testing.T) {
	ctx := context.Background()
	pk := "USER#" + uuid.New().String()

	if err := db.StoreItem(ctx, usersTable, map[string]any{"pk": pk, "displayName": "Ada"}); err != nil {
		t.Fatalf("StoreItem failed: %v", err)
	}
	got, err := db.GetItemByPK(ctx, usersTable, pk)
	if err != nil {
		t.Fatalf("GetItemByPK failed: %v", err)
	}
	if got["displayName"] != "Ada" {
		t.Errorf("expected name Ada, got %v", got["displayName"])
	}
}

func TestPutNew_Conflict(t *testing.T) {
	ctx := context.Background()
	item := map[string]any{"pk": "USER#" + uuid.New().String(), "sk": "PROFILE"}

	if err := db.PutNew(ctx, docsTable, item); err != nil {
		t.Fatalf("first PutNew failed: %v", err)
	}
	err := db.PutNew(ctx, docsTable, item)
	if err == nil {
		t.Fatal("expected second PutNew to fail")
	}
	if !ddbapi.IsConditionalCheckFailed(err) {
		t.Errorf("expected ConditionalCheckFailed, got %v", err)
	}
}

func TestVersionedUpdate(t *testing.T) {
	ctx := context.Background()
	pk := "USER#" + uuid.New().String()

	if err := db.StoreItem(ctx, docsTable, map[string]any{"pk": pk, "sk": "DOC#1", "title": "v1", "version": 1}); err != nil {
		t.Fatalf("StoreItem failed: %v", err)
	}

	updated, err := db.UpdateVersionedItem(ctx, docsTable, pk, "DOC#1", map[string]any{"title": "v2"}, 1)
	if err != nil {
		t.Fatalf("UpdateVersionedItem failed: %v", err)
	}
	if updated["title"] != "v2" || fmt.Sprint(updated["version"]) != "2" {
		t.Errorf("unexpected item after update: %v", updated)
	}

	_, err = db.UpdateVersionedItem(ctx, docsTable, pk, "DOC#1", map[string]any{"title": "stale"}, 1)
	if err == nil {
		t.Fatal("expected stale update to fail")
	}
	if !ddbapi.IsConditionalCheckFailed(err) {
		t.Errorf("expected ConditionalCheckFailed, got %v", err)
	}
}

// --- Query Tests ---

func seed(t *testing.T, pk, owner string, n int) {
	t.Helper()
	objects := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		objects = append(objects, map[string]any{
			"pk":     pk,
			"sk":     fmt.Sprintf("DOC#%02d", i),
			"author": owner,
			"score":  i,
		})
	}
	if err := db.BatchWrite(context.Background(), docsTable, objects); err != nil {
		t.Fatalf("BatchWrite failed: %v", err)
	}
}

func TestPaginatedQuery(t *testing.T) {
	ctx := context.Background()
	pk := "USER#" + uuid.New().String()
	seed(t, pk, "owner-"+testID, 7)

	items, err := db.GetPaginatedItemsByPK(ctx, docsTable, pk)
	if err != nil {
		t.Fatalf("GetPaginatedItemsByPK failed: %v", err)
	}
	if len(items) != 7 {
		t.Fatalf("expected 7 items across pages, got %d", len(items))
	}
	for i, item := range items {
		if want := fmt.Sprintf("DOC#%02d", i+1); item["sk"] != want {
			t.Errorf("expected %s at %d, got %v", want, i, item["sk"])
		}
	}

	filter := expression.Name("score").GreaterThanEqual(expression.Value(5))
	raw, err := db.GetPaginatedItems(ctx, dynamo.QuerySpec{
		TableName:    docsTable,
		KeyCondition: expression.Key("pk").Equal(expression.Value(pk)),
		Filter:       &filter,
		Projection:   []string{"sk"},
		Descending:   true,
	})
	if err != nil {
		t.Fatalf("GetPaginatedItems failed: %v", err)
	}
	if len(raw) != 3 {
		t.Fatalf("expected 3 filtered items, got %d", len(raw))
	}
	if sk := raw[0]["sk"].(*types.AttributeValueMemberS).Value; sk != "DOC#07" {
		t.Errorf("expected DOC#07 first, got %s", sk)
	}
	if _, ok := raw[0]["score"]; ok {
		t.Error("expected score to be projected away")
	}
}

func TestIndexQuery(t *testing.T) {
	ctx := context.Background()
	owner := "owner-" + uuid.New().String()
	seed(t, "USER#"+uuid.New().String(), owner, 3)
	seed(t, "USER#"+uuid.New().String(), owner, 2)

	items, err := db.GetPaginatedItems(ctx, dynamo.QuerySpec{
		TableName:    docsTable,
		IndexName:    "by-author",
		KeyCondition: expression.Key("author").Equal(expression.Value(owner)),
	})
	if err != nil {
		t.Fatalf("index query failed: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("expected 5 items for owner, got %d", len(items))
	}
}

func TestBatchGet(t *testing.T) {
	ctx := context.Background()
	pk := "USER#" + uuid.New().String()
	seed(t, pk, "owner-"+testID, 30)

	keys := make([]dynamo.Key, 0, 31)
	for i := 1; i <= 31; i++ {
		keys = append(keys, dynamo.Key{PK: pk, SK: fmt.Sprintf("DOC#%02d", i)})
	}
	items, err := db.BatchGetItemsByPKSK(ctx, docsTable, keys)
	if err != nil {
		t.Fatalf("BatchGetItemsByPKSK failed: %v", err)
	}
	if len(items) != 30 {
		t.Errorf("expected 30 items, got %d", len(items))
	}
}

// --- Typed Tests ---

type profile struct {
	PK    string `dynamodbav:"pk"`
	SK    string `dynamodbav:"sk"`
	Name  string `dynamodbav:"displayName"`
	Email string `dynamodbav:"email,omitempty"`
}

func TestTypedStructs(t *testing.T) {
	ctx := context.Background()
	in := profile{PK: "USER#" + uuid.New().String(), SK: "PROFILE", Name: "Grace"}

	if err := db.PutStruct(ctx, docsTable, in); err != nil {
		t.Fatalf("PutStruct failed: %v", err)
	}
	var out profile
	found, err := db.GetInto(ctx, docsTable, in.PK, in.SK, &out)
	if err != nil {
		t.Fatalf("GetInto failed: %v", err)
	}
	if !found || out != in {
		t.Errorf("expected %+v, got %+v (found=%v)", in, out, found)
	}
}

// --- Stream Tests ---

func TestStreamRecords(t *testing.T) {
	if streamsClient == nil {
		t.Skip("streams are only read from dynamock backends")
	}
	ctx := context.Background()
	pk := "USER#" + uuid.New().String()

	if err := db.StoreItem(ctx, docsTable, map[string]any{"pk": pk, "sk": "DOC#1", "title": "a"}); err != nil {
		t.Fatalf("StoreItem failed: %v", err)
	}
	if err := db.DeleteItemByPKSK(ctx, docsTable, pk, "DOC#1"); err != nil {
		t.Fatalf("DeleteItemByPKSK failed: %v", err)
	}

	listed, err := streamsClient.ListStreams(ctx, &dynamodbstreams.ListStreamsInput{TableName: aws.String(docsTable)})
	if err != nil {
		t.Fatalf("ListStreams failed: %v", err)
	}
	if len(listed.Streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(listed.Streams))
	}
	desc, err := streamsClient.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{StreamArn: listed.Streams[0].StreamArn})
	if err != nil {
		t.Fatalf("DescribeStream failed: %v", err)
	}

	var mine []streamtypes.Record
	for _, sh := range desc.StreamDescription.Shards {
		iter, err := streamsClient.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
			StreamArn:         listed.Streams[0].StreamArn,
			ShardId:           sh.ShardId,
			ShardIteratorType: streamtypes.ShardIteratorTypeTrimHorizon,
		})
		if err != nil {
			t.Fatalf("GetShardIterator failed: %v", err)
		}
		page, err := streamsClient.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: iter.ShardIterator})
		if err != nil {
			t.Fatalf("GetRecords failed: %v", err)
		}
		for _, r := range page.Records {
			if v, ok := r.Dynamodb.Keys["pk"].(*streamtypes.AttributeValueMemberS); ok && v.Value == pk {
				mine = append(mine, r)
			}
		}
	}

	if len(mine) != 2 {
		t.Fatalf("expected 2 records for %s, got %d", pk, len(mine))
	}
	if mine[0].EventName != streamtypes.OperationTypeInsert || mine[1].EventName != streamtypes.OperationTypeRemove {
		t.Errorf("expected INSERT then REMOVE, got %s then %s", mine[0].EventName, mine[1].EventName)
	}
}
