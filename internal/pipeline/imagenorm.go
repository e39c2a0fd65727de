package pipeline

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/forgegate/forgegate/pkg/models"
)

// proxyMaxLongestEdge and proxyMaxPixels bound the downscaled "proxy"
// copy built for the model request only (§4.8 step 2: "~2 MP").
const (
	proxyMaxLongestEdge = 1414
	proxyMaxPixels      = 2_000_000
)

// imageSidecar is the JSON metadata persisted alongside a full-quality
// uploaded image, keyed by content hash for dedup.
type imageSidecar struct {
	Hash             string    `json:"hash"`
	OriginalFilename string    `json:"original_filename"`
	MediaType        string    `json:"media_type"`
	Size             int       `json:"size"`
	CreatedAt        time.Time `json:"created_at"`
}

// Normalizer implements §4.8 step 2: persisting full-quality images,
// deduping by content hash, building a downscaled proxy for the model,
// and rewriting the message list so only the last message carries image
// blocks.
type Normalizer struct {
	dataRoot   string
	httpClient *http.Client
}

// NewNormalizer builds a Normalizer rooted at dataRoot
// ("{data-root}/{user}/{conv}/volume/...").
func NewNormalizer(dataRoot string) *Normalizer {
	return &Normalizer{
		dataRoot:   dataRoot,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Normalize rewrites messages per §4.8 step 2 and returns a cleanup
// closure that removes every proxy file it created; the caller must
// invoke it once the turn completes, success or failure.
func (n *Normalizer) Normalize(ctx context.Context, userID, conversationID string, messages []models.Message) ([]models.Message, func(), error) {
	noop := func() {}
	if len(messages) == 0 {
		return messages, noop, nil
	}

	volumeRoot := filepath.Join(n.dataRoot, userID, conversationID, "volume")
	uploadedDir := filepath.Join(volumeRoot, "uploaded")
	tempDir := filepath.Join(volumeRoot, "temp")
	if err := os.MkdirAll(uploadedDir, 0o755); err != nil {
		return nil, noop, fmt.Errorf("pipeline: mkdir %s: %w", uploadedDir, err)
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, noop, fmt.Errorf("pipeline: mkdir %s: %w", tempDir, err)
	}

	out := make([]models.Message, len(messages))
	copy(out, messages)
	lastIdx := len(out) - 1

	var proxyFiles []string
	cleanup := func() {
		for _, p := range proxyFiles {
			os.Remove(p)
		}
	}

	// Strip image blocks from every message but the last.
	for i := 0; i < lastIdx; i++ {
		out[i] = stripImageBlocks(out[i])
	}

	// Process image blocks on the last message only.
	var proxyBlocks []models.Block
	for _, b := range out[lastIdx].Blocks {
		if b.Type != models.BlockImageRef || b.ImageRef == nil {
			continue
		}
		proxyRef, proxyPath, err := n.persistAndProxy(ctx, uploadedDir, tempDir, userID, conversationID, *b.ImageRef)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		if proxyPath != "" {
			proxyFiles = append(proxyFiles, proxyPath)
		}
		if proxyRef != nil {
			proxyBlocks = append(proxyBlocks, models.NewImageBlock(*proxyRef))
		}
	}
	out[lastIdx] = stripImageBlocks(out[lastIdx])
	out[lastIdx].Blocks = append(out[lastIdx].Blocks, proxyBlocks...)

	listing, err := n.listAvailableImages(uploadedDir)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	if listing != "" {
		out[lastIdx].Blocks = append(out[lastIdx].Blocks, models.NewTextBlock(listing))
	}

	return out, cleanup, nil
}

func stripImageBlocks(m models.Message) models.Message {
	if len(m.Blocks) == 0 {
		return m
	}
	kept := make([]models.Block, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		if b.Type != models.BlockImageRef {
			kept = append(kept, b)
		}
	}
	m.Blocks = kept
	return m
}

// persistAndProxy fetches/decodes ref's bytes (skipping already-local
// references), persists them at {uploaded}/{hash}.{ext} with a JSON
// sidecar (skipping re-persistence on a dedup hit), and returns an
// ImageRef embedding a downscaled proxy copy for the model.
func (n *Normalizer) persistAndProxy(ctx context.Context, uploadedDir, tempDir, userID, conversationID string, ref models.ImageRef) (*models.ImageRef, string, error) {
	if isLocalVolumeRef(ref.URL) {
		return &models.ImageRef{URL: ref.URL, MediaType: ref.MediaType}, "", nil
	}

	data, mediaType, err := n.fetchImageBytes(ctx, ref)
	if err != nil {
		return nil, "", err
	}

	sum := md5.Sum(data)
	hash := fmt.Sprintf("%x", sum)
	ext := extensionForMediaType(mediaType)
	imagePath := filepath.Join(uploadedDir, hash+ext)
	sidecarPath := filepath.Join(uploadedDir, hash+".json")

	if _, err := os.Stat(imagePath); err != nil {
		if !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("pipeline: stat %s: %w", imagePath, err)
		}
		if err := os.WriteFile(imagePath, data, 0o644); err != nil {
			return nil, "", fmt.Errorf("pipeline: write %s: %w", imagePath, err)
		}
		sidecar := imageSidecar{Hash: hash, MediaType: mediaType, Size: len(data), CreatedAt: time.Now()}
		sidecarBytes, _ := json.Marshal(sidecar)
		if err := os.WriteFile(sidecarPath, sidecarBytes, 0o644); err != nil {
			return nil, "", fmt.Errorf("pipeline: write %s: %w", sidecarPath, err)
		}
	}

	proxyBytes, err := downscaleToProxy(data)
	if err != nil {
		return nil, "", fmt.Errorf("pipeline: build proxy: %w", err)
	}
	proxyPath := filepath.Join(tempDir, hash+".jpg")
	if err := os.WriteFile(proxyPath, proxyBytes, 0o644); err != nil {
		return nil, "", fmt.Errorf("pipeline: write proxy %s: %w", proxyPath, err)
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(proxyBytes)
	return &models.ImageRef{URL: dataURL, MediaType: "image/jpeg"}, proxyPath, nil
}

// isLocalVolumeRef reports whether url already points into our own
// volume storage convention, meaning it needs no re-fetch/persist.
func isLocalVolumeRef(url string) bool {
	return strings.Contains(url, "/volume/uploaded/")
}

func (n *Normalizer) fetchImageBytes(ctx context.Context, ref models.ImageRef) ([]byte, string, error) {
	if len(ref.Data) > 0 {
		mediaType := ref.MediaType
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}
		return ref.Data, mediaType, nil
	}
	if strings.HasPrefix(ref.URL, "data:") {
		return decodeDataURL(ref.URL)
	}
	if strings.HasPrefix(ref.URL, "http://") || strings.HasPrefix(ref.URL, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
		if err != nil {
			return nil, "", fmt.Errorf("pipeline: build image fetch request: %w", err)
		}
		resp, err := n.httpClient.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("pipeline: fetch image: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", fmt.Errorf("pipeline: fetch image: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("pipeline: read fetched image: %w", err)
		}
		mediaType := resp.Header.Get("Content-Type")
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}
		return data, mediaType, nil
	}
	return nil, "", fmt.Errorf("pipeline: unsupported image reference %q", ref.URL)
}

func decodeDataURL(raw string) ([]byte, string, error) {
	rest := strings.TrimPrefix(raw, "data:")
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("pipeline: malformed data URL")
	}
	meta, payload := parts[0], parts[1]
	mediaType := strings.TrimSuffix(meta, ";base64")
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("pipeline: only base64 data URLs are supported")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("pipeline: decode data URL: %w", err)
	}
	return data, mediaType, nil
}

func extensionForMediaType(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// downscaleToProxy decodes an image and re-encodes it as a JPEG no
// larger than ~2 MP / 1414px on the longest edge.
func downscaleToProxy(data []byte) ([]byte, error) {
	decoded, _, err := decodeImage(data)
	if err != nil {
		return nil, err
	}

	bounds := decoded.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	scale := 1.0
	if longest := maxInt(w, h); longest > proxyMaxLongestEdge {
		scale = float64(proxyMaxLongestEdge) / float64(longest)
	}
	if pixels := w * h; float64(pixels)*scale*scale > proxyMaxPixels {
		scale = scale * (proxyMaxPixels / (float64(pixels) * scale * scale))
	}

	dstW, dstH := w, h
	if scale < 1.0 {
		dstW = maxInt(1, int(float64(w)*scale))
		dstH = maxInt(1, int(float64(h)*scale))
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), decoded, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode proxy jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// listAvailableImages renders the text block listing every persisted
// image for the conversation (§4.8 step 2: "filename + stable URL +
// timestamp").
func (n *Normalizer) listAvailableImages(uploadedDir string) (string, error) {
	entries, err := os.ReadDir(uploadedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("pipeline: list %s: %w", uploadedDir, err)
	}

	var sidecars []imageSidecar
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(uploadedDir, e.Name()))
		if err != nil {
			continue
		}
		var sc imageSidecar
		if err := json.Unmarshal(raw, &sc); err != nil {
			continue
		}
		sidecars = append(sidecars, sc)
	}
	if len(sidecars) == 0 {
		return "", nil
	}
	sort.Slice(sidecars, func(i, j int) bool { return sidecars[i].CreatedAt.Before(sidecars[j].CreatedAt) })

	var lines []string
	lines = append(lines, "[AVAILABLE_IMAGES]")
	for _, sc := range sidecars {
		ext := extensionForMediaType(sc.MediaType)
		filename := sc.Hash + ext
		lines = append(lines, fmt.Sprintf("- %s (uploaded/%s, %s)", filename, filename, sc.CreatedAt.Format(time.RFC3339)))
	}
	lines = append(lines, "[/AVAILABLE_IMAGES]")
	return strings.Join(lines, "\n"), nil
}
