package detector

import (
	"context"
	"fmt"

	"github.com/ajramos/mailguard/internal/page"
	"github.com/ajramos/mailguard/internal/render"
)

const bannerSelector = "#" + render.BannerID

// BannerSlot keeps at most one banner in the page
type BannerSlot struct {
	doc      page.Document
	resolver *Resolver
}

// NewBannerSlot creates a slot that anchors banners through resolver
func NewBannerSlot(doc page.Document, resolver *Resolver) *BannerSlot {
	return &BannerSlot{doc: doc, resolver: resolver}
}

// Show replaces any banner with markup. Without an anchor the page is left
// without a banner and page.ErrNotFound is returned.
func (b *BannerSlot) Show(ctx context.Context, markup string) error {
	if err := b.Hide(ctx); err != nil {
		return err
	}
	anchor, pos, err := b.resolver.InjectionPoint(ctx)
	if err != nil {
		return err
	}
	if err := b.doc.Insert(ctx, anchor, pos, markup); err != nil {
		return fmt.Errorf("failed to inject banner: %w", err)
	}
	return nil
}

// Hide removes the banner
func (b *BannerSlot) Hide(ctx context.Context) error {
	if err := b.doc.Remove(ctx, bannerSelector); err != nil {
		return fmt.Errorf("failed to remove banner: %w", err)
	}
	return nil
}

// Visible reports whether a banner is in the page
func (b *BannerSlot) Visible(ctx context.Context) (bool, error) {
	return b.doc.Exists(ctx, bannerSelector)
}
