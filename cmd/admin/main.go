// Command admin is the operator console for tasks that must work without
// the HTTP back-office, such as promoting the first admin.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"kortrade/internal/config"
	"kortrade/internal/database"
	"kortrade/internal/models"
	"kortrade/internal/points"
	"kortrade/internal/repository"

	"gorm.io/gorm"
)

const usage = `usage: admin <command> [args]

  promote <user_id>                 grant admin rights
  demote <user_id>                  revoke admin rights
  list-admins                       list current admins
  ban <user_id> [reason]            suspend a member
  unban <user_id>                   lift a suspension
  grant <user_id> <amount> [memo]   credit KOR-Coin (negative amount debits)
  supply                            total KOR-Coin in circulation`

var errUsage = errors.New(usage)

type console struct {
	db     *gorm.DB
	users  repository.UserRepository
	ledger *points.Service
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	c := console{db: db, users: repository.NewUserRepository(db, nil), ledger: points.NewService(db, nil)}

	switch {
	case (cmd == "promote" || cmd == "demote") && len(args) == 1:
		return c.setAdmin(ctx, args[0], cmd == "promote")
	case cmd == "ban" && len(args) >= 1:
		return c.setBanned(ctx, args[0], true, strings.Join(args[1:], " "))
	case cmd == "unban" && len(args) == 1:
		return c.setBanned(ctx, args[0], false, "")
	case cmd == "list-admins":
		return c.listAdmins(ctx)
	case cmd == "grant" && len(args) >= 2:
		return c.grant(ctx, args[0], args[1], strings.Join(args[2:], " "))
	case cmd == "supply":
		supply, err := c.ledger.Supply(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("KOR-Coin supply: %.2f\n", supply)
		return nil
	}
	return errUsage
}

func (c console) user(ctx context.Context, rawID string) (models.User, error) {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return models.User{}, fmt.Errorf("bad user id %q", rawID)
	}
	var u models.User
	err = c.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return u, fmt.Errorf("user %d not found", id)
	}
	return u, err
}

func (c console) setAdmin(ctx context.Context, rawID string, admin bool) error {
	u, err := c.user(ctx, rawID)
	if err != nil {
		return err
	}
	if u.IsAdmin == admin {
		fmt.Printf("%s (#%d) unchanged, admin=%v\n", u.Username, u.ID, admin)
		return nil
	}
	if err := c.db.WithContext(ctx).Model(&u).Update("is_admin", admin).Error; err != nil {
		return err
	}
	fmt.Printf("%s (#%d) admin=%v\n", u.Username, u.ID, admin)
	return nil
}

func (c console) setBanned(ctx context.Context, rawID string, banned bool, reason string) error {
	u, err := c.user(ctx, rawID)
	if err != nil {
		return err
	}
	if banned && u.IsAdmin {
		return fmt.Errorf("%s (#%d) is an admin; demote first", u.Username, u.ID)
	}
	if err := c.users.SetBanned(ctx, u.ID, banned, reason); err != nil {
		return err
	}
	fmt.Printf("%s (#%d) banned=%v\n", u.Username, u.ID, banned)
	return nil
}

func (c console) listAdmins(ctx context.Context) error {
	var admins []models.User
	if err := c.db.WithContext(ctx).Where("is_admin = ?", true).Order("id").Find(&admins).Error; err != nil {
		return err
	}
	if len(admins) == 0 {
		fmt.Println("no admins")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tNICKNAME\tEMAIL")
	for _, a := range admins {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", a.ID, a.Username, a.Nickname, a.Email)
	}
	return w.Flush()
}

func (c console) grant(ctx context.Context, rawID, rawAmount, memo string) error {
	u, err := c.user(ctx, rawID)
	if err != nil {
		return err
	}
	amount, err := strconv.ParseFloat(rawAmount, 64)
	if err != nil || amount == 0 {
		return fmt.Errorf("bad amount %q", rawAmount)
	}
	kind := models.CoinAdminGrant
	if amount < 0 {
		kind = models.CoinAdminDeduct
	}
	if memo == "" {
		memo = "cli"
	}
	row, err := c.ledger.Apply(ctx, points.Entry{
		UserID: u.ID, Type: kind, Amount: amount, RefType: "cli", Memo: memo,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s: %.2f -> %.2f KOR\n", u.Username, row.BalanceBefore, row.BalanceAfter)
	return nil
}
