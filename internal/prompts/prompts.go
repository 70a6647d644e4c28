// Package prompts holds the spoken and on-screen kiosk messages.
//
// Keys are English; the Indonesian catalog is the one kiosks ship with. Amounts
// are formatted with the locale's grouping, so 25000 reads "Rp 25.000" in id-ID.
package prompts

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	keyAmount          = "Rp %d"
	keyEnterAmount     = "Please enter the payment amount"
	keyQRInput         = "Enter the payment amount, then say generate QR."
	keyTapInput        = "Enter the payment amount, then say activate NFC."
	keyStaticReady     = "Static QR code for %s is shown. Show it to the buyer or say pay to simulate the payment."
	keyDynamicReady    = "Dynamic QR code for %s is ready. Say pay to simulate the payment."
	keyTapReady        = "NFC is active. Waiting for a payment of %s. Say pay to simulate the payment."
	keyPaymentReceived = "Payment received of %s"
	keyHelp            = "VoicePay help page. Learn how to use the app and its voice features."
	keyHistory         = "Transaction list. There are %d transactions. Say back to return to the main menu."
)

var indonesian = map[string]string{
	keyEnterAmount:     "Silakan masukkan nominal pembayaran",
	keyQRInput:         "Masukkan nominal pembayaran, lalu ucapkan buat QR.",
	keyTapInput:        "Masukkan nominal pembayaran, lalu ucapkan aktif NFC.",
	keyStaticReady:     "Kode QR static untuk %s telah ditampilkan. Tunjukkan kepada pembeli atau ucapkan bayar untuk simulasi pembayaran.",
	keyDynamicReady:    "Kode QR dinamis untuk %s siap. Ucapkan bayar untuk simulasi pembayaran.",
	keyTapReady:        "NFC aktif. Menunggu pembayaran %s. Ucapkan bayar untuk simulasi pembayaran.",
	keyPaymentReceived: "Pembayaran diterima sebesar %s",
	keyHelp:            "Halaman bantuan VoicePay. Pelajari cara menggunakan aplikasi dan fitur suara.",
	keyHistory:         "Daftar transaksi. Terdapat %d transaksi. Ucapkan kembali untuk ke menu utama.",
}

// Catalog renders messages for one session language.
type Catalog struct {
	lang    string
	printer *message.Printer
}

// New builds a catalog for a BCP 47 tag such as "id-ID". Unknown or English
// tags fall back to the English keys.
func New(lang string) *Catalog {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Indonesian
		lang = "id-ID"
	}
	base, _ := tag.Base()
	lookup := language.Make(base.String())

	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range indonesian {
		_ = b.SetString(language.Indonesian, key, msg)
	}
	return &Catalog{
		lang:    lang,
		printer: message.NewPrinter(lookup, message.Catalog(b)),
	}
}

// Language is the tag passed to speech synthesis as a voice hint.
func (c *Catalog) Language() string { return c.lang }

func (c *Catalog) Amount(v int64) string { return c.printer.Sprintf(keyAmount, v) }

func (c *Catalog) EnterAmount() string { return c.printer.Sprintf(keyEnterAmount) }

func (c *Catalog) QRInput() string { return c.printer.Sprintf(keyQRInput) }

func (c *Catalog) TapInput() string { return c.printer.Sprintf(keyTapInput) }

func (c *Catalog) StaticReady(amount int64) string {
	return c.printer.Sprintf(keyStaticReady, c.Amount(amount))
}

func (c *Catalog) DynamicReady(amount int64) string {
	return c.printer.Sprintf(keyDynamicReady, c.Amount(amount))
}

func (c *Catalog) TapReady(amount int64) string {
	return c.printer.Sprintf(keyTapReady, c.Amount(amount))
}

func (c *Catalog) PaymentReceived(amount int64) string {
	return c.printer.Sprintf(keyPaymentReceived, c.Amount(amount))
}

func (c *Catalog) Help() string { return c.printer.Sprintf(keyHelp) }

func (c *Catalog) History(count int) string { return c.printer.Sprintf(keyHistory, count) }
