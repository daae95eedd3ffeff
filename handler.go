package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/deedmark/deed-trade/envelope"
	"github.com/deedmark/deed-trade/listing"
	"github.com/deedmark/deed-trade/registry"
)

type registerRequest struct {
	AssetURL        string               `json:"asset_url"`
	Registrant      string               `json:"registrant"`
	Name            string               `json:"name"`
	Description     string               `json:"description"`
	Attributes      []envelope.Attribute `json:"attributes"`
	Security        string               `json:"security"`
	SensitiveFields []string             `json:"sensitive_fields"`
}

type listingRequest struct {
	TokenID string `json:"token_id"`
	Seller  string `json:"seller"`
	Price   string `json:"price"`
}

type paymentRequest struct {
	TokenID      string `json:"token_id"`
	Seller       string `json:"seller"`
	Buyer        string `json:"buyer"`
	PaymentTxRef string `json:"payment_txid"`
}

type buyRequest struct {
	TokenID string `json:"token_id"`
	Seller  string `json:"seller"`
	Buyer   string `json:"buyer"`
}

type transferRequest struct {
	TokenID   string `json:"token_id"`
	NextOwner string `json:"owner"`
}

func handleHoldings() gin.HandlerFunc {
	return func(c *gin.Context) {
		hs, err := builder.ResolveHoldings(c.Request.Context(), c.Param("account"))
		if err != nil {
			checkErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"holdings": hs})
	}
}

// readAsset loads the content behind a file:// url.
func readAsset(u string) ([]byte, string, error) {
	result, err := url.Parse(u)
	if err != nil {
		return nil, "", err
	}

	switch result.Scheme {
	case "file":
		dat, err := os.ReadFile(result.Path)
		if err != nil {
			return nil, "", err
		}
		return dat, filepath.Base(result.Path), nil
	default:
		return nil, "", errors.New("scheme not supported for asset_url")
	}
}

func handleRegisterAsset() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"message": "invalid request body"})
			return
		}

		content, fileName, err := readAsset(req.AssetURL)
		if err != nil {
			c.JSON(400, gin.H{"message": "unable to read asset"})
			return
		}

		fileRef, err := pinner.PinBytes(c.Request.Context(), fileName, content)
		if err != nil {
			checkErr(c, err)
			return
		}

		mimeType := http.DetectContentType(content)
		files := []envelope.FileRef{{
			Name:     fileName,
			URI:      fileRef,
			MimeType: mimeType,
			Size:     int64(len(content)),
		}}
		image := ""
		if strings.HasPrefix(mimeType, "image/") {
			image = fileRef
		}

		env, key, err := envelope.Build(
			envelope.Fields{Name: req.Name, Description: req.Description, Attributes: req.Attributes},
			files, image, strings.ToLower(req.Registrant),
			envelope.SecurityMode{Mode: envelope.Mode(req.Security), Fields: req.SensitiveFields},
		)
		if err != nil {
			checkErr(c, err)
			return
		}

		metadataRef, err := pinner.PinJSON(c.Request.Context(), req.Name, env)
		if err != nil {
			checkErr(c, err)
			return
		}

		resp := gin.H{"metadata_ref": metadataRef}
		if key != nil {
			// The one caller-controlled channel the key ever crosses.
			resp["key"] = key.Export()
		}
		c.JSON(http.StatusOK, resp)
	}
}

func handleOpenAsset() gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := resolver.Fetch(c.Request.Context(), c.Param("cid"))
		if err != nil {
			checkErr(c, err)
			return
		}

		var env envelope.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "malformed envelope"})
			return
		}

		var key *envelope.Key
		if encoded := c.GetHeader("X-Envelope-Key"); encoded != "" {
			key, err = envelope.ParseKey(encoded)
			if err != nil {
				c.JSON(400, gin.H{"message": err.Error()})
				return
			}
		}

		opened, err := envelope.Open(&env, key)
		if err != nil {
			checkErr(c, err)
			return
		}

		locked := make([]string, 0, len(opened.Locked))
		for name := range opened.Locked {
			locked = append(locked, name)
		}
		c.JSON(http.StatusOK, gin.H{
			"name":        opened.Fields.Name,
			"description": opened.Fields.Description,
			"attributes":  opened.Fields.Attributes,
			"image":       env.Image,
			"files":       env.Files,
			"createdBy":   env.CreatedBy,
			"createdAt":   env.CreatedAt,
			"security":    env.Security.Mode,
			"locked":      locked,
		})
	}
}

func handleCreateListing() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req listingRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"message": "invalid request body"})
			return
		}

		l, err := ledger.Create(req.TokenID, req.Seller, req.Price)
		if err != nil {
			checkErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"listing": l})
	}
}

func handleListListings() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			ls  []listing.Listing
			err error
		)
		switch {
		case c.Query("seller") != "":
			ls, err = ledger.BySeller(c.Query("seller"))
		case c.Query("pending") != "":
			ls, err = ledger.PendingTransfer()
		default:
			ls, err = ledger.Active()
		}
		if err != nil {
			checkErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"listings": ls})
	}
}

func handleCancelListing() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req listingRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"message": "invalid request body"})
			return
		}

		l, err := ledger.Cancel(req.TokenID, req.Seller)
		if err != nil {
			checkErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"listing": l})
	}
}

// handleBuy pays for an Active listing with the service's payment
// account and records the payment. The asset itself moves later; the
// listing stays visibly Sold until reconciliation observes the transfer.
func handleBuy() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req buyRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"message": "invalid request body"})
			return
		}

		buyer := strings.ToLower(req.Buyer)
		if buyer == "" {
			buyer = payment.Account()
		}
		if buyer == "" {
			c.JSON(400, gin.H{"message": "no buyer account available"})
			return
		}

		l, err := ledger.ActiveForToken(req.TokenID)
		if err != nil {
			checkErr(c, err)
			return
		}
		if l == nil || !strings.EqualFold(l.Seller, req.Seller) {
			c.JSON(http.StatusConflict, gin.H{"message": "no active listing for this token and seller"})
			return
		}
		if strings.EqualFold(l.Seller, buyer) {
			c.JSON(400, gin.H{"message": "cannot buy your own listing"})
			return
		}

		amount, err := registry.ParseUnits(l.Price)
		if err != nil {
			checkErr(c, err)
			return
		}

		balance, err := payment.BalanceOf(c.Request.Context(), buyer)
		if err != nil {
			checkErr(c, err)
			return
		}
		if balance.Cmp(amount) < 0 {
			c.JSON(400, gin.H{"message": "insufficient payment token balance"})
			return
		}

		txRef, err := payment.Transfer(c.Request.Context(), l.Seller, amount)
		if err != nil {
			checkErr(c, err)
			return
		}

		sold, err := ledger.RecordPayment(req.TokenID, req.Seller, buyer, txRef)
		if err != nil {
			checkErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"listing": sold, "payment_txid": txRef})
	}
}

func handleRecordPayment() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req paymentRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"message": "invalid request body"})
			return
		}

		l, err := ledger.RecordPayment(req.TokenID, req.Seller, req.Buyer, req.PaymentTxRef)
		if err != nil {
			checkErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"listing": l})
	}
}

func handleReconcile() gin.HandlerFunc {
	return func(c *gin.Context) {
		settled, err := ledger.ReconcileTransfers(c.Request.Context(), c.Param("account"))
		if err != nil && len(settled) == 0 {
			checkErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"settled": settled})
	}
}

func handleTransfer() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"message": "invalid request body"})
			return
		}

		txRef, err := reg.SubmitTransfer(c.Request.Context(), req.NextOwner, req.TokenID)
		if err != nil {
			checkErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"txid": txRef})
	}
}
