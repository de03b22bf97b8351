package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiAPI adapts the OpenAI client to the vectorAPI contract.
type openaiAPI struct {
	client openai.Client
}

// newOpenAIAPI builds the production vector-store service client.
func newOpenAIAPI(apiKey string) *openaiAPI {
	return &openaiAPI{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (a *openaiAPI) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	file, err := a.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(r, filename, "text/plain"),
		Purpose: openai.FilePurposeAssistants,
	})
	if err != nil {
		return "", err
	}
	return file.ID, nil
}

func (a *openaiAPI) FileExists(ctx context.Context, fileID string) (bool, error) {
	_, err := a.client.Files.Get(ctx, fileID)
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) && apierr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *openaiAPI) EnsureVectorStore(ctx context.Context, name string) (string, error) {
	iter := a.client.VectorStores.ListAutoPaging(ctx, openai.VectorStoreListParams{})
	for iter.Next() {
		vs := iter.Current()
		if vs.Name == name {
			return vs.ID, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("listing vector stores: %w", err)
	}

	vs, err := a.client.VectorStores.New(ctx, openai.VectorStoreNewParams{
		Name: openai.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("creating vector store %q: %w", name, err)
	}
	return vs.ID, nil
}

func (a *openaiAPI) AttachFile(ctx context.Context, storeID, fileID string) error {
	_, err := a.client.VectorStores.Files.New(ctx, storeID, openai.VectorStoreFileNewParams{
		FileID: fileID,
	})
	return err
}
