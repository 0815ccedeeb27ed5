package postchain

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/image/draw"

	"github.com/eringen/postchain/chain"
)

const (
	avatarSize    = 256
	jpegQuality   = 85
	maxUploadSize = 10 << 20 // 10MB
	uploadsPrefix = "/uploads/"
)

// processAvatar decodes an image, crops it to a centered square, scales it
// to avatarSize, and encodes it as JPEG.
func processAvatar(src io.Reader) ([]byte, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	if side == 0 {
		return nil, fmt.Errorf("decode image: empty image")
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	out := min(side, avatarSize)
	dst := image.NewRGBA(image.Rect(0, 0, out, out))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, crop, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// apiUploadAvatar stores a new avatar image and points the profile at it.
func (a *App) apiUploadAvatar(c echo.Context) error {
	ctx := c.Request().Context()
	addr, err := addressParam(c, "profile")
	if err != nil {
		return err
	}
	caller := callerFrom(c)
	prof, err := a.Engine.Profile(ctx, addr)
	if err != nil {
		return readError(err)
	}
	// Checked here as well as in the engine so rejected callers never write files.
	if caller.Authority != prof.Authority {
		return &chain.AuthorizationError{Authority: caller.Authority, Reason: "not the profile authority"}
	}

	file, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no image file provided")
	}
	if file.Size > maxUploadSize {
		return echo.NewHTTPError(http.StatusBadRequest, "file too large (max 10MB)")
	}
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	data, err := processAvatar(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid image: "+err.Error())
	}

	if err := ensureDir(a.Config.UploadDir); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}
	name := uuid.NewString() + ".jpg"
	dest := filepath.Join(a.Config.UploadDir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write avatar: %w", err)
	}

	avatar := uploadsPrefix + name
	old, err := a.Engine.SetAvatar(ctx, caller, addr, avatar)
	a.Metrics.Observe("upload_avatar", err)
	if err != nil {
		_ = os.Remove(dest)
		return err
	}
	a.removeUpload(old)

	prof, err = a.Engine.Profile(ctx, addr)
	if err != nil {
		return readError(err)
	}
	return c.JSON(http.StatusOK, profileResponse{Address: addr, Name: prof.Name, Avatar: prof.Avatar, Authority: prof.Authority})
}

// removeUpload deletes a previously uploaded avatar. Avatars that point
// elsewhere are left alone.
func (a *App) removeUpload(avatar string) {
	if !strings.HasPrefix(avatar, uploadsPrefix) {
		return
	}
	name := path.Base(avatar)
	if err := os.Remove(filepath.Join(a.Config.UploadDir, name)); err != nil && !os.IsNotExist(err) {
		a.Log.Warn().Err(err).Str("file", name).Msg("remove old avatar")
	}
}
