package seed

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"medibill/m/domain"
	"medibill/m/internal/billing"
)

// LoadCatalog ingests a CSV of medicines into the catalog, creating
// manufacturers on first sight. Expected columns: name, category,
// manufacturer, price, batch no, expiry, stock. Bad rows are skipped.
func LoadCatalog(svc *billing.Service, csvPath string, log *logrus.Logger) {
	file, err := os.Open(csvPath)
	if err != nil {
		log.WithError(err).Warnf("unable to load catalog %s", csvPath)
		return
	}
	defer file.Close()

	ctx := context.Background()
	reader := csv.NewReader(file)
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.WithError(err).Warn("unable to read catalog header")
		return
	}

	makers := make(map[string]string)
	if existing, err := svc.ListManufacturers(ctx); err == nil {
		for _, m := range existing {
			makers[m.Name] = m.ID
		}
	}

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.WithError(err).Warn("unable to read catalog row")
			continue
		}
		if len(record) < 7 {
			continue
		}
		name := strings.TrimSpace(record[0])
		category := strings.TrimSpace(record[1])
		makerName := strings.TrimSpace(record[2])
		if name == "" || makerName == "" {
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(record[3]))
		if err != nil {
			continue
		}
		stock, _ := strconv.ParseInt(strings.TrimSpace(record[6]), 10, 64)

		makerID, ok := makers[makerName]
		if !ok {
			maker, err := svc.AddManufacturer(ctx, domain.InsertManufacturer{Name: makerName})
			if err != nil {
				log.WithError(err).Warnf("unable to create manufacturer %s", makerName)
				continue
			}
			makerID = maker.ID
			makers[makerName] = makerID
		}

		_, err = svc.AddMedicine(ctx, domain.InsertMedicine{
			Name:           name,
			Category:       category,
			ManufacturerID: makerID,
			Price:          price,
			BatchNo:        strings.TrimSpace(record[4]),
			Expiry:         billing.NormalizeExpiry(record[5]),
			Stock:          stock,
		})
		if err != nil {
			log.WithError(err).Warnf("unable to insert medicine %s", name)
		} else {
			rows++
		}
	}

	log.Infof("seeded catalog with %d medicines", rows)
}
