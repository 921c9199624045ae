package audit

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"wagerchain/native/wager"
)

type parquetRecord struct {
	GameID      int64  `parquet:"name=game_id, type=INT64"`
	White       string `parquet:"name=white, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Black       string `parquet:"name=black, type=UTF8, encoding=PLAIN_DICTIONARY"`
	WhiteAmount string `parquet:"name=white_amount, type=UTF8, encoding=PLAIN_DICTIONARY"`
	BlackAmount string `parquet:"name=black_amount, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Total       string `parquet:"name=total, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Claimed     bool   `parquet:"name=claimed, type=BOOLEAN"`
	Outcome     string `parquet:"name=outcome, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Winner      string `parquet:"name=winner, type=UTF8, encoding=PLAIN_DICTIONARY"`
	CreatedAt   string `parquet:"name=created_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
	UpdatedAt   string `parquet:"name=updated_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// ExportParquet writes one row per wager record to path.
func ExportParquet(path string, records []*wager.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRecord), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		if rec == nil {
			continue
		}
		row := &parquetRecord{
			GameID:      int64(rec.GameID),
			White:       rec.White.String(),
			WhiteAmount: amountString(rec.WhiteAmount),
			BlackAmount: amountString(rec.BlackAmount),
			Total:       amountString(rec.Total),
			Claimed:     rec.Claimed,
			Outcome:     rec.Outcome.String(),
			CreatedAt:   formatUnix(rec.CreatedAt),
			UpdatedAt:   formatUnix(rec.UpdatedAt),
		}
		if rec.Black != nil {
			row.Black = rec.Black.String()
		}
		if rec.Winner != nil {
			row.Winner = rec.Winner.String()
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}

func formatUnix(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
