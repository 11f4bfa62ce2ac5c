// services/pass_builder.go
package services

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"salon-referral-system/config"
)

// PassData is everything a gift card pass displays.
type PassData struct {
	SerialNumber string
	AuthToken    string
	GAN          string
	CustomerName string
	ReferralCode string
	ReferralURL  string
	BalanceCents int64
	Currency     string
	UpdatedAt    time.Time
}

// Image files copied into the bundle when present in the assets directory.
var passImageNames = []string{
	"icon.png", "icon@2x.png", "icon@3x.png",
	"logo.png", "logo@2x.png", "logo@3x.png",
	"strip.png", "strip@2x.png",
}

type PassBuilder struct {
	Config config.WalletConfig
	Signer *PassSigner
}

func NewPassBuilder(cfg config.WalletConfig, signer *PassSigner) *PassBuilder {
	return &PassBuilder{Config: cfg, Signer: signer}
}

type passField struct {
	Key           string `json:"key"`
	Label         string `json:"label,omitempty"`
	Value         any    `json:"value"`
	CurrencyCode  string `json:"currencyCode,omitempty"`
	ChangeMessage string `json:"changeMessage,omitempty"`
}

type passBarcode struct {
	Format          string `json:"format"`
	Message         string `json:"message"`
	MessageEncoding string `json:"messageEncoding"`
	AltText         string `json:"altText,omitempty"`
}

type passStructure struct {
	PrimaryFields   []passField `json:"primaryFields"`
	SecondaryFields []passField `json:"secondaryFields,omitempty"`
	AuxiliaryFields []passField `json:"auxiliaryFields,omitempty"`
	BackFields      []passField `json:"backFields,omitempty"`
}

type passDocument struct {
	FormatVersion       int           `json:"formatVersion"`
	PassTypeIdentifier  string        `json:"passTypeIdentifier"`
	SerialNumber        string        `json:"serialNumber"`
	TeamIdentifier      string        `json:"teamIdentifier"`
	OrganizationName    string        `json:"organizationName"`
	Description         string        `json:"description"`
	LogoText            string        `json:"logoText,omitempty"`
	WebServiceURL       string        `json:"webServiceURL,omitempty"`
	AuthenticationToken string        `json:"authenticationToken,omitempty"`
	BackgroundColor     string        `json:"backgroundColor,omitempty"`
	ForegroundColor     string        `json:"foregroundColor,omitempty"`
	LabelColor          string        `json:"labelColor,omitempty"`
	Barcodes            []passBarcode `json:"barcodes"`
	StoreCard           passStructure `json:"storeCard"`
}

// PassJSON renders pass.json. The web service fields are only emitted when a
// web service URL is configured, since Apple requires both or neither.
func (b *PassBuilder) PassJSON(d PassData) ([]byte, error) {
	currency := strings.ToUpper(d.Currency)
	if currency == "" {
		currency = "USD"
	}
	doc := passDocument{
		FormatVersion:      1,
		PassTypeIdentifier: b.Config.PassTypeIdentifier,
		SerialNumber:       d.SerialNumber,
		TeamIdentifier:     b.Config.TeamIdentifier,
		OrganizationName:   b.Config.OrganizationName,
		Description:        b.Config.Description,
		LogoText:           b.Config.OrganizationName,
		BackgroundColor:    b.Config.BackgroundColor,
		ForegroundColor:    b.Config.ForegroundColor,
		LabelColor:         b.Config.ForegroundColor,
		Barcodes: []passBarcode{{
			Format:          "PKBarcodeFormatQR",
			Message:         d.GAN,
			MessageEncoding: "iso-8859-1",
			AltText:         d.GAN,
		}},
		StoreCard: passStructure{
			PrimaryFields: []passField{{
				Key:           "balance",
				Label:         "BALANCE",
				Value:         decimal.New(d.BalanceCents, -2).InexactFloat64(),
				CurrencyCode:  currency,
				ChangeMessage: "Your balance is now %@",
			}},
		},
	}
	if b.Config.WebServiceURL != "" && d.AuthToken != "" {
		doc.WebServiceURL = b.Config.WebServiceURL
		doc.AuthenticationToken = d.AuthToken
	}
	if d.CustomerName != "" {
		doc.StoreCard.SecondaryFields = append(doc.StoreCard.SecondaryFields, passField{
			Key: "name", Label: "MEMBER", Value: d.CustomerName,
		})
	}
	doc.StoreCard.AuxiliaryFields = append(doc.StoreCard.AuxiliaryFields, passField{
		Key: "gan", Label: "CARD", Value: d.GAN,
	})
	if d.ReferralCode != "" {
		doc.StoreCard.BackFields = append(doc.StoreCard.BackFields, passField{
			Key: "referral_code", Label: "Your referral code", Value: d.ReferralCode,
		})
	}
	if d.ReferralURL != "" {
		doc.StoreCard.BackFields = append(doc.StoreCard.BackFields, passField{
			Key: "referral_url", Label: "Share with friends", Value: d.ReferralURL,
		})
	}
	if !d.UpdatedAt.IsZero() {
		doc.StoreCard.BackFields = append(doc.StoreCard.BackFields, passField{
			Key: "updated", Label: "Last updated", Value: d.UpdatedAt.UTC().Format(time.RFC1123),
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Build assembles and signs a .pkpass archive.
func (b *PassBuilder) Build(d PassData) ([]byte, error) {
	if b.Signer == nil {
		return nil, ErrWalletNotConfigured
	}
	passJSON, err := b.PassJSON(d)
	if err != nil {
		return nil, fmt.Errorf("encode pass.json: %w", err)
	}

	files := map[string][]byte{"pass.json": passJSON}
	if err := b.loadImages(files); err != nil {
		return nil, err
	}

	manifest, err := Manifest(files)
	if err != nil {
		return nil, err
	}
	signature, err := b.Signer.Sign(manifest)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	files["manifest.json"] = manifest
	files["signature"] = signature

	return zipFiles(files)
}

// Manifest maps each file name to the hex SHA-1 of its contents.
func Manifest(files map[string][]byte) ([]byte, error) {
	sums := make(map[string]string, len(files))
	for name, body := range files {
		sum := sha1.Sum(body)
		sums[name] = hex.EncodeToString(sum[:])
	}
	return json.Marshal(sums)
}

func (b *PassBuilder) loadImages(files map[string][]byte) error {
	if b.Config.AssetsDir != "" {
		for _, name := range passImageNames {
			raw, err := os.ReadFile(filepath.Join(b.Config.AssetsDir, name))
			if err != nil {
				continue
			}
			files[name] = raw
		}
	}
	// icon.png is mandatory for Wallet to accept the pass.
	if _, ok := files["icon.png"]; !ok {
		bg := parseRGB(b.Config.BackgroundColor)
		for name, size := range map[string]int{"icon.png": 29, "icon@2x.png": 58} {
			raw, err := solidPNG(size, bg)
			if err != nil {
				return err
			}
			files[name] = raw
		}
	}
	return nil
}

func solidPNG(size int, c color.RGBA) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode icon: %w", err)
	}
	return buf.Bytes(), nil
}

// parseRGB reads the "rgb(r,g,b)" notation used by pass.json colors.
func parseRGB(s string) color.RGBA {
	var r, g, b uint8
	if _, err := fmt.Sscanf(strings.ReplaceAll(s, " ", ""), "rgb(%d,%d,%d)", &r, &g, &b); err != nil {
		return color.RGBA{R: 24, G: 24, B: 27, A: 255}
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func zipFiles(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("zip %s: %w", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			return nil, fmt.Errorf("zip %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip close: %w", err)
	}
	return buf.Bytes(), nil
}
