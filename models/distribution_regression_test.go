package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
)

// Full lifecycle against real MySQL + Redis: contract -> order (balance
// reserved) -> receipts -> partial confirmation -> adjustment with a
// complementary receipt -> chain confirmation -> consolidation completo.
func TestDistributionLifecycleRegression(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "distribution_test")
	// Helpful to see logs in CI when debugging failures.
	t.Setenv("DEBUG_DELIVERY_ORDER", "true")
	t.Setenv("DEBUG_DELIVERY_RECEIPT", "true")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	businessID := "biz-regression-1"
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")

	// 1) Contract with one item: 100 units of notebooks at 12.50.
	contract, err := models.CreateContract(ctx, &models.NewContract{
		ContractNumber: "CT-2026-001",
		SupplierName:   "Papelaria Central",
		SignedDate:     time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		Details: []models.NewContractDetail{
			{
				Name:          "Caderno 96 folhas",
				UnitOfMeasure: "UN",
				UnitPrice:     decimal.RequireFromString("12.50"),
				TotalQty:      decimal.NewFromInt(100),
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateContract: %v", err)
	}
	itemID := contract.Details[0].ID

	// 2) Two school units.
	unitA, err := models.CreateSchoolUnit(ctx, &models.NewSchoolUnit{Code: "EM-001", Name: "Escola Municipal A"})
	if err != nil {
		t.Fatalf("CreateSchoolUnit A: %v", err)
	}
	unitB, err := models.CreateSchoolUnit(ctx, &models.NewSchoolUnit{Code: "EM-002", Name: "Escola Municipal B"})
	if err != nil {
		t.Fatalf("CreateSchoolUnit B: %v", err)
	}

	// 3) Order: 60 to A, 40 to B. Reserves the full balance.
	order, err := models.CreateDeliveryOrder(ctx, &models.NewDeliveryOrder{
		ContractId:            contract.ID,
		RequestedDeliveryDate: time.Now().UTC().Add(72 * time.Hour),
		Details: []models.NewDeliveryOrderDetail{
			{ContractDetailId: itemID, SchoolUnitId: unitA.ID, Qty: decimal.NewFromInt(60)},
			{ContractDetailId: itemID, SchoolUnitId: unitB.ID, Qty: decimal.NewFromInt(40)},
		},
	})
	if err != nil {
		t.Fatalf("CreateDeliveryOrder: %v", err)
	}
	if order.CurrentStatus != models.DeliveryOrderStatusConfirmed {
		t.Fatalf("order status = %s, want Confirmed", order.CurrentStatus)
	}
	if !order.TotalValue.Equal(decimal.RequireFromString("1250")) {
		t.Fatalf("total value = %s, want 1250", order.TotalValue)
	}

	refreshed, err := models.GetContract(ctx, contract.ID)
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if !refreshed.Details[0].BalanceQty.IsZero() {
		t.Fatalf("balance = %s, want 0 after full reservation", refreshed.Details[0].BalanceQty)
	}

	// 4) Over-allocation on a drained ledger must fail atomically.
	_, err = models.CreateDeliveryOrder(ctx, &models.NewDeliveryOrder{
		ContractId:            contract.ID,
		RequestedDeliveryDate: time.Now().UTC().Add(72 * time.Hour),
		Details: []models.NewDeliveryOrderDetail{
			{ContractDetailId: itemID, SchoolUnitId: unitA.ID, Qty: decimal.NewFromInt(1)},
		},
	})
	if err != utils.ErrorInsufficientBalance {
		t.Fatalf("over-allocation err = %v, want ErrorInsufficientBalance", err)
	}

	// 5) Generate one receipt per unit; order moves to Delivered.
	generated, err := models.GenerateDeliveryReceipts(ctx, order.ID, "Transportadora XYZ")
	if err != nil {
		t.Fatalf("GenerateDeliveryReceipts: %v", err)
	}
	if len(generated) != 2 {
		t.Fatalf("generated %d receipts, want 2", len(generated))
	}
	receiptByUnit := make(map[int]*models.GeneratedDeliveryReceipt)
	for _, g := range generated {
		receiptByUnit[g.Receipt.SchoolUnitId] = g
		if g.ConfirmationURL == "" {
			t.Fatalf("receipt %d has no confirmation url", g.Receipt.ID)
		}
	}
	tokenOf := func(g *models.GeneratedDeliveryReceipt) string {
		parts := strings.Split(g.ConfirmationURL, "/")
		return parts[len(parts)-1]
	}

	// Receipt numbers are sequential and unique per business; the composite
	// index must reject a second row carrying an already-issued number.
	if generated[0].Receipt.ReceiptNumber == generated[1].Receipt.ReceiptNumber {
		t.Fatalf("both receipts got number %s", generated[0].Receipt.ReceiptNumber)
	}
	dup := models.DeliveryReceipt{
		BusinessId:      businessID,
		ReceiptNumber:   generated[0].Receipt.ReceiptNumber,
		DeliveryOrderId: order.ID,
		SchoolUnitId:    unitA.ID,
		CurrentStatus:   models.DeliveryReceiptStatusPending,
	}
	if err := config.GetDB().WithContext(ctx).Create(&dup).Error; err == nil {
		t.Fatalf("insert with duplicate receipt number succeeded, want unique violation")
	}

	// 6) Unit A confirms only 30 of 60.
	ga := receiptByUnit[unitA.ID]
	confirmedA, err := models.ConfirmDeliveryReceipt(ctx, tokenOf(ga), []models.ReceiptConfirmationSubmission{
		{DeliveryReceiptDetailId: ga.Receipt.Details[0].ID, QtyReceived: decimal.NewFromInt(30)},
	})
	if err != nil {
		t.Fatalf("ConfirmDeliveryReceipt A: %v", err)
	}
	if confirmedA.CurrentStatus != models.DeliveryReceiptStatusPartial {
		t.Fatalf("receipt A status = %s, want Partial", confirmedA.CurrentStatus)
	}

	// Token is single-use: the same link must now land on not-found.
	_, err = models.ConfirmDeliveryReceipt(ctx, tokenOf(ga), nil)
	if err != utils.ErrorRecordNotFound {
		t.Fatalf("reused token err = %v, want ErrorRecordNotFound", err)
	}

	// 7) Adjustment keeps the 30 received and opens a complementary for 30.
	updatedA, complementary, err := models.AdjustDeliveryReceipt(ctx, confirmedA.ID, nil)
	if err != nil {
		t.Fatalf("AdjustDeliveryReceipt: %v", err)
	}
	if complementary == nil {
		t.Fatalf("expected a complementary receipt for the 30 short")
	}
	if got := complementary.Receipt.Details[0].QtyRequested; !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("complementary requested = %s, want 30", got)
	}
	if complementary.Receipt.ParentReceiptId == nil || *complementary.Receipt.ParentReceiptId != updatedA.ID {
		t.Fatalf("complementary not linked to its parent")
	}

	// A second adjustment on the same receipt is blocked.
	if _, _, err := models.AdjustDeliveryReceipt(ctx, confirmedA.ID, nil); err != utils.ErrorInvalidState {
		t.Fatalf("second adjustment err = %v, want ErrorInvalidState", err)
	}

	// 8) The complementary delivery arrives in full.
	compToken := tokenOf(complementary)
	compConfirmed, err := models.ConfirmDeliveryReceipt(ctx, compToken, []models.ReceiptConfirmationSubmission{
		{DeliveryReceiptDetailId: complementary.Receipt.Details[0].ID, QtyReceived: decimal.NewFromInt(30)},
	})
	if err != nil {
		t.Fatalf("ConfirmDeliveryReceipt complementary: %v", err)
	}
	if compConfirmed.CurrentStatus != models.DeliveryReceiptStatusConfirmed {
		t.Fatalf("complementary status = %s, want Confirmed", compConfirmed.CurrentStatus)
	}

	// 9) Unit B confirms everything first try.
	gb := receiptByUnit[unitB.ID]
	confirmedB, err := models.ConfirmDeliveryReceipt(ctx, tokenOf(gb), []models.ReceiptConfirmationSubmission{
		{DeliveryReceiptDetailId: gb.Receipt.Details[0].ID, QtyReceived: decimal.NewFromInt(40)},
	})
	if err != nil {
		t.Fatalf("ConfirmDeliveryReceipt B: %v", err)
	}
	if confirmedB.CurrentStatus != models.DeliveryReceiptStatusConfirmed {
		t.Fatalf("receipt B status = %s, want Confirmed", confirmedB.CurrentStatus)
	}

	// 10) Consolidation: both units covered across their chains.
	view, err := models.GetConsolidation(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetConsolidation: %v", err)
	}
	if view.Status != models.ConsolidationStatusComplete {
		t.Fatalf("consolidation status = %s, want completo", view.Status)
	}
	if view.ConfirmedUnits != 2 || view.TotalUnits != 2 {
		t.Fatalf("consolidation units = %d/%d, want 2/2", view.ConfirmedUnits, view.TotalUnits)
	}
	if !view.PercentConfirmed.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("percent = %s, want 100", view.PercentConfirmed)
	}

	// 11) Chain read-back from the root receipt.
	chain, err := models.GetReceiptChain(ctx, updatedA.ID)
	if err != nil {
		t.Fatalf("GetReceiptChain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}

	// 12) Outbox rows were written in-tx for every state change.
	db := config.GetDB()
	var outboxCount int64
	if err := db.Model(&models.DistributionMessageRecord{}).
		Where("business_id = ?", businessID).Count(&outboxCount).Error; err != nil {
		t.Fatalf("count outbox records: %v", err)
	}
	if outboxCount == 0 {
		t.Fatalf("no outbox records written")
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("distribution-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("distribution-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=distribution_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
