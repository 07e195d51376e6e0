package ddbapi_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/jacentio/dynamock/ddbapi"
)

func TestNewRemote_Endpoint(t *testing.T) {
	client, err := ddbapi.NewRemote(context.Background(), ddbapi.RemoteOptions{
		Region:          "eu-west-1",
		Endpoint:        "http://localhost:8000",
		AccessKeyID:     "dynamock",
		SecretAccessKey: "dynamock",
	})
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}

	opts := client.Options()
	if aws.ToString(opts.BaseEndpoint) != "http://localhost:8000" {
		t.Errorf("expected endpoint override, got %q", aws.ToString(opts.BaseEndpoint))
	}
	if opts.Region != "eu-west-1" {
		t.Errorf("expected region eu-west-1, got %q", opts.Region)
	}

	creds, err := opts.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("retrieve credentials: %v", err)
	}
	if creds.AccessKeyID != "dynamock" {
		t.Errorf("expected static credentials, got %q", creds.AccessKeyID)
	}
}

func TestNewRemote_NoEndpoint(t *testing.T) {
	client, err := ddbapi.NewRemote(context.Background(), ddbapi.RemoteOptions{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}
	if client.Options().BaseEndpoint != nil {
		t.Errorf("expected default endpoint, got %q", aws.ToString(client.Options().BaseEndpoint))
	}
}

func TestNewRemoteStreams_Endpoint(t *testing.T) {
	client, err := ddbapi.NewRemoteStreams(context.Background(), ddbapi.RemoteOptions{
		Region:          "local",
		Endpoint:        "http://localhost:8000",
		AccessKeyID:     "dynamock",
		SecretAccessKey: "dynamock",
	})
	if err != nil {
		t.Fatalf("new remote streams: %v", err)
	}
	if aws.ToString(client.Options().BaseEndpoint) != "http://localhost:8000" {
		t.Errorf("expected endpoint override, got %q", aws.ToString(client.Options().BaseEndpoint))
	}
}
