package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/homechef/internal/domain/account"
	"github.com/xenking/homechef/internal/domain/dish"
)

// catalog is the seed data set.
type catalog struct {
	Clients []account.Client
	Chefs   []account.Chef
	Dishes  []dish.Dish
}

// readCatalog reads a catalog file, gunzipping it when the name ends in .gz.
func readCatalog(path string) (*catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	c, err := decodeCatalog(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return c, nil
}

func decodeCatalog(data []byte) (*catalog, error) {
	var c catalog
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "clients":
			return d.Arr(func(d *jx.Decoder) error {
				var cl account.Client
				err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "id":
						cl.ID, err = d.Str()
					case "name":
						cl.Name, err = d.Str()
					case "phone":
						cl.Phone, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				})
				c.Clients = append(c.Clients, cl)
				return err
			})
		case "chefs":
			return d.Arr(func(d *jx.Decoder) error {
				var ch account.Chef
				err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "id":
						ch.ID, err = d.Str()
					case "name":
						ch.Name, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				})
				c.Chefs = append(c.Chefs, ch)
				return err
			})
		case "dishes":
			return d.Arr(func(d *jx.Decoder) error {
				ds, err := decodeDish(d)
				c.Dishes = append(c.Dishes, ds)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &c, c.validate()
}

func decodeDish(d *jx.Decoder) (dish.Dish, error) {
	ds := dish.Dish{IsAvailable: true}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			ds.ID, err = d.Str()
		case "chefId":
			ds.ChefID, err = d.Str()
		case "name":
			ds.Name, err = d.Str()
		case "price":
			var n jx.Num
			if n, err = d.Num(); err != nil {
				return err
			}
			ds.Price, err = decimal.NewFromString(n.String())
		case "isAvailable":
			ds.IsAvailable, err = d.Bool()
		case "isArchived":
			ds.IsArchived, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return ds, err
}

// validate checks that every dish belongs to a chef of the catalog.
func (c *catalog) validate() error {
	chefs := make(map[string]struct{}, len(c.Chefs))
	for _, ch := range c.Chefs {
		if ch.ID == "" {
			return errors.New("chef without id")
		}
		chefs[ch.ID] = struct{}{}
	}
	for _, cl := range c.Clients {
		if cl.ID == "" {
			return errors.New("client without id")
		}
	}
	for _, ds := range c.Dishes {
		if ds.ID == "" {
			return errors.New("dish without id")
		}
		if _, ok := chefs[ds.ChefID]; !ok {
			return errors.Errorf("dish %s references unknown chef %q", ds.ID, ds.ChefID)
		}
		if !ds.Price.IsPositive() {
			return errors.Errorf("dish %s has non-positive price", ds.ID)
		}
	}
	return nil
}
