package unstructured

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"docchat/src/core/extraction"
	"docchat/src/log"
)

type UnstructuredService struct {
	baseURL    string
	httpClient *http.Client
}

var _ extraction.Extractor = (*UnstructuredService)(nil)

type UnstructuredElement struct {
	Type      string   `json:"type"`
	Text      string   `json:"text"`
	ElementID string   `json:"element_id"`
	Metadata  Metadata `json:"metadata"`
}

type Metadata struct {
	Filename   string `json:"filename,omitempty"`
	Filetype   string `json:"filetype,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
}

func NewUnstructuredService(baseURL string, httpClient *http.Client) *UnstructuredService {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &UnstructuredService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Extract partitions the document remotely and groups element texts by page.
// Elements without a page number are collected on the first page.
func (s *UnstructuredService) Extract(ctx context.Context, name string, data []byte) ([]string, error) {
	elements, err := s.Partition(ctx, path.Base(name), data)
	if err != nil {
		return nil, err
	}

	var pages []string
	for _, el := range elements {
		if strings.TrimSpace(el.Text) == "" {
			continue
		}
		page := max(el.Metadata.PageNumber, 1) - 1
		for len(pages) <= page {
			pages = append(pages, "")
		}
		if pages[page] != "" {
			pages[page] += "\n\n"
		}
		pages[page] += el.Text
	}
	return pages, nil
}

func (s *UnstructuredService) Partition(ctx context.Context, filename string, content []byte) ([]UnstructuredElement, error) {
	var requestBody bytes.Buffer
	multipartWriter := multipart.NewWriter(&requestBody)

	fileWriter, err := multipartWriter.CreateFormFile("files", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err = io.Copy(fileWriter, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}

	fields := map[string]string{
		"strategy":      "auto",
		"output_format": "application/json",
	}
	for k, v := range fields {
		if err := multipartWriter.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := multipartWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/general/v0/general", &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", multipartWriter.FormDataContentType())

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Error(nil, "Unstructured partition failed", "status", resp.Status, "file", filename, "response", string(body))
		return nil, fmt.Errorf("partition service error: %s", resp.Status)
	}

	var elements []UnstructuredElement
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	log.Debug("Partitioned document", "file", filename, "elements", len(elements))
	return elements, nil
}
