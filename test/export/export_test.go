package export_test

import (
	"bytes"
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	shopify "github.com/gempages/shopify-catalog-export"
	json "github.com/goccy/go-json"
)

// These specs run against a real development shop. They skip unless
// SHOPIFY_SHOP_NAME and SHOPIFY_API_TOKEN are set.
var _ = Describe("RunManager", func() {
	var (
		ctx      context.Context
		shopName string
		token    string
	)

	BeforeEach(func() {
		ctx = context.Background()
		shopName = os.Getenv("SHOPIFY_SHOP_NAME")
		token = os.Getenv("SHOPIFY_API_TOKEN")
		if shopName == "" || token == "" {
			Skip("SHOPIFY_SHOP_NAME / SHOPIFY_API_TOKEN not set")
		}
	})

	Describe("Run", func() {
		When("only products are requested", func() {
			It("streams a header and one row per variant", func() {
				settings, err := shopify.NewSettings(map[string]interface{}{
					"shop_name":   shopName,
					"oauth_token": token,
					"data_types":  "products",
				})
				Expect(err).NotTo(HaveOccurred())

				var buf bytes.Buffer
				sink := shopify.NewDelimitedWriter(&buf)
				manager := shopify.NewRunManager(settings)

				Expect(manager.Run(ctx, sink)).To(Succeed())
				Expect(sink.Flush()).To(Succeed())

				lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
				Expect(len(lines)).To(BeNumerically(">=", 1))
				Expect(string(lines[0])).To(ContainSubstring("id"))
				Expect(string(lines[0])).To(ContainSubstring("item_group_id"))

				stats := manager.Stats()["products"]
				Expect(stats).NotTo(BeNil())
				Expect(stats.Products).To(BeNumerically(">", 0))
			})
		})
	})

	Describe("RunList", func() {
		It("reports permissions, shop info and a sample row", func() {
			settings, err := shopify.NewSettings(map[string]interface{}{
				"shop_name":    shopName,
				"oauth_token":  token,
				"request_type": "list",
			})
			Expect(err).NotTo(HaveOccurred())

			var buf bytes.Buffer
			manager := shopify.NewRunManager(settings)
			Expect(manager.RunList(ctx, &buf)).To(Succeed())

			var diag map[string]interface{}
			Expect(json.Unmarshal(buf.Bytes(), &diag)).To(Succeed())
			Expect(diag).To(HaveKey("permissions"))
			Expect(diag).To(HaveKey("shop"))
			Expect(diag).To(HaveKey("product_count"))
		})
	})
})
