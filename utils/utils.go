package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
)

// DownloadFile fetches url into filepath. The transfer streams straight to
// disk; bulk result files regularly exceed memory.
func DownloadFile(ctx context.Context, filepath string, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("DefaultClient.Do: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnf("close response body: %s", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("non-200 OK status code downloading result: %v", resp.Status)
	}

	out, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer CloseFile(out)

	_, err = io.Copy(out, resp.Body)
	return err
}

func CloseFile(f *os.File) {
	if err := f.Close(); err != nil {
		log.Warnf("close file %s: %s", f.Name(), err)
	}
}

// RemoveFile deletes a temp file, logging instead of failing when the file
// is already gone.
func RemoveFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("remove file %s: %s", path, err)
	}
}
