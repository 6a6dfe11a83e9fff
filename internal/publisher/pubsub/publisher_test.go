package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/linkgraph/crawler/internal/publisher/pubsub"
)

func TestPublisherPublish(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := gpubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = client.CreateTopic(ctx, "crawl-documents")
	require.NoError(t, err)

	pub := pubsub.NewWithClient(client)
	defer func() {
		require.NoError(t, pub.Close())
	}()

	payload := map[string]string{"url": "example.com", "title": "Example"}
	id, err := pub.Publish(ctx, "crawl-documents", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)

	var got map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, payload, got)
}

func TestPublisherEmptyTopic(t *testing.T) {
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := gpubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	pub := pubsub.NewWithClient(client)
	defer func() {
		require.NoError(t, pub.Close())
	}()

	_, err = pub.Publish(context.Background(), "", "payload")
	assert.Error(t, err)
}

func TestNewRequiresProject(t *testing.T) {
	_, err := pubsub.New(context.Background(), "")
	assert.Error(t, err)
}
