package session

import (
	"context"
	"testing"
)

func TestUploadImageProbesDimensions(t *testing.T) {
	env := newTestEnv(t)
	seedDocument(t, env, "doc-1", 1)
	sess := mustCreateSession(t, env, "doc-1", CreateParams{})

	img, err := env.service.UploadImage(context.Background(), sess.ID, sess.Token, "logo.png", pngBytes(t, 12, 7))
	if err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	if img.Width != 12 || img.Height != 7 {
		t.Fatalf("expected probed dimensions 12x7, got %dx%d", img.Width, img.Height)
	}
	if img.MimeType != "image/png" {
		t.Fatalf("expected image/png, got %q", img.MimeType)
	}
	if !env.store.Exists(img.FilePath) {
		t.Fatalf("expected stored image at %s", img.FilePath)
	}
}

func TestUploadImageRejectsUnknownExtension(t *testing.T) {
	env := newTestEnv(t)
	seedDocument(t, env, "doc-1", 1)
	sess := mustCreateSession(t, env, "doc-1", CreateParams{})

	_, err := env.service.UploadImage(context.Background(), sess.ID, sess.Token, "logo.bmp", pngBytes(t, 4, 4))
	assertIs(t, err, ErrValidation)
}

func TestUploadImageRejectsOversizedContent(t *testing.T) {
	env := newTestEnv(t)
	seedDocument(t, env, "doc-1", 1)
	sess := mustCreateSession(t, env, "doc-1", CreateParams{})

	oversized := make([]byte, 2<<20)
	_, err := env.service.UploadImage(context.Background(), sess.ID, sess.Token, "logo.png", oversized)
	assertIs(t, err, ErrValidation)
}

func TestUploadImageRejectsUndecodableContent(t *testing.T) {
	env := newTestEnv(t)
	seedDocument(t, env, "doc-1", 1)
	sess := mustCreateSession(t, env, "doc-1", CreateParams{})

	_, err := env.service.UploadImage(context.Background(), sess.ID, sess.Token, "logo.png", []byte("not an image"))
	assertIs(t, err, ErrValidation)
}

func TestUploadImageRequiresEditPermission(t *testing.T) {
	env := newTestEnv(t)
	seedDocument(t, env, "doc-1", 1)
	noEdit := false
	sess := mustCreateSession(t, env, "doc-1", CreateParams{CanEdit: &noEdit})

	_, err := env.service.UploadImage(context.Background(), sess.ID, sess.Token, "logo.png", pngBytes(t, 4, 4))
	assertIs(t, err, ErrPermission)
}

func TestDeleteImageRemovesFileAndRecord(t *testing.T) {
	env := newTestEnv(t)
	seedDocument(t, env, "doc-1", 1)
	sess := mustCreateSession(t, env, "doc-1", CreateParams{})
	img := mustUploadImage(t, env, sess, "logo.png")

	if err := env.service.DeleteImage(context.Background(), sess.ID, sess.Token, img.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if env.store.Exists(img.FilePath) {
		t.Fatalf("image file should be removed")
	}
	_, err := env.service.GetImage(context.Background(), sess.ID, sess.Token, img.ID)
	assertIs(t, err, ErrNotFound)
}

func TestListImagesScopedToSession(t *testing.T) {
	env := newTestEnv(t)
	seedDocument(t, env, "doc-1", 1)
	first := mustCreateSession(t, env, "doc-1", CreateParams{})
	second := mustCreateSession(t, env, "doc-1", CreateParams{})
	mustUploadImage(t, env, first, "one.png")
	mustUploadImage(t, env, first, "two.png")
	mustUploadImage(t, env, second, "other.png")

	images, err := env.service.ListImages(context.Background(), first.ID, first.Token)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images in the first session, got %d", len(images))
	}
}
