package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Pinner uploads bytes and JSON documents to a Pinata-compatible pinning
// service and returns their ipfs:// content identifiers.
type Pinner struct {
	endpoint string
	jwt      string
	client   *http.Client
	log      zerolog.Logger
}

func NewPinner(endpoint, jwt string, log zerolog.Logger) *Pinner {
	return &Pinner{
		endpoint: endpoint,
		jwt:      jwt,
		client:   &http.Client{Timeout: 60 * time.Second},
		log:      log,
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// PinBytes pins raw file content and returns its content identifier.
func (p *Pinner) PinBytes(ctx context.Context, name string, content []byte) (string, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return "", err
	}
	if _, err = part.Write(content); err != nil {
		return "", err
	}

	meta, _ := json.Marshal(map[string]string{"name": filepath.Base(name)})
	writer.WriteField("pinataMetadata", string(meta))

	if err = writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/pinning/pinFileToIPFS", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var reply pinResponse
	if err := p.submit(req, &reply); err != nil {
		return "", fmt.Errorf("pin %s: %w", name, err)
	}

	return Scheme + "://" + reply.IpfsHash, nil
}

// PinJSON pins a JSON document and returns its content identifier.
func (p *Pinner) PinJSON(ctx context.Context, name string, v interface{}) (string, error) {
	body := new(bytes.Buffer)
	payload := map[string]interface{}{
		"pinataMetadata": map[string]string{"name": name},
		"pinataContent":  v,
	}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/pinning/pinJSONToIPFS", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var reply pinResponse
	if err := p.submit(req, &reply); err != nil {
		return "", fmt.Errorf("pin %s: %w", name, err)
	}

	return Scheme + "://" + reply.IpfsHash, nil
}

func (p *Pinner) submit(req *http.Request, reply interface{}) error {
	req.Header.Set("Authorization", "Bearer "+p.jwt)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Error().Str("url", req.URL.String()).Err(err).Msg("pinning request failed")
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("pinning service returned %d: %s", resp.StatusCode, string(data))
	}

	if reply != nil {
		if err = json.Unmarshal(data, reply); err != nil {
			return fmt.Errorf("unexpected pinning response: %s", string(data))
		}
	}

	return nil
}
