package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/product"
)

// Dynamo backs the order, product and webhook-dedupe stores with DynamoDB.
// Referral and seller records stay on another backend; this store covers the
// hot write paths that benefit from conditional writes.
//
// Expected tables:
//   - orders:    PK id (S), GSI "charge_id-index" on charge_id,
//                GSI "buyer_id-index" on buyer_id
//   - products:  PK id (S)
//   - processed: PK event_key (S)
type Dynamo struct {
	client         *dynamodb.Client
	ordersTable    string
	productsTable  string
	processedTable string
}

func NewDynamo(client *dynamodb.Client, ordersTable, productsTable, processedTable string) *Dynamo {
	return &Dynamo{
		client:         client,
		ordersTable:    ordersTable,
		productsTable:  productsTable,
		processedTable: processedTable,
	}
}

// dynamoOrder stores the queried keys as attributes and the full aggregate
// as a JSON document, mirroring the JSONB layout of the Postgres backend.
type dynamoOrder struct {
	ID        string `dynamodbav:"id"`
	BuyerID   string `dynamodbav:"buyer_id"`
	ChargeID  string `dynamodbav:"charge_id,omitempty"`
	Data      string `dynamodbav:"data"`
	CreatedAt string `dynamodbav:"created_at"`
}

func (d *Dynamo) putOrder(ctx context.Context, o *order.Order, condition *string) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(dynamoOrder{
		ID:        o.ID,
		BuyerID:   o.BuyerID,
		ChargeID:  o.Payment.ChargeID,
		Data:      string(data),
		CreatedAt: o.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.ordersTable),
		Item:                item,
		ConditionExpression: condition,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrDuplicateOrder
	}
	return err
}

func (d *Dynamo) Save(ctx context.Context, o *order.Order) error {
	return d.putOrder(ctx, o, aws.String("attribute_not_exists(id)"))
}

func (d *Dynamo) Update(ctx context.Context, o *order.Order) error {
	err := d.putOrder(ctx, o, nil)
	if errors.Is(err, ErrDuplicateOrder) {
		return order.ErrOrderNotFound
	}
	return err
}

func unmarshalDynamoOrder(item map[string]types.AttributeValue) (*order.Order, error) {
	var rec dynamoOrder
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, err
	}
	var o order.Order
	if err := json.Unmarshal([]byte(rec.Data), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (d *Dynamo) Get(ctx context.Context, id string) (*order.Order, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.ordersTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(result.Item) == 0 {
		return nil, order.ErrOrderNotFound
	}
	return unmarshalDynamoOrder(result.Item)
}

func (d *Dynamo) queryOrders(ctx context.Context, index, attr, value string) ([]*order.Order, error) {
	result, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.ordersTable),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = :v", attr)),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	})
	if err != nil {
		return nil, err
	}
	var out []*order.Order
	for _, item := range result.Items {
		o, err := unmarshalDynamoOrder(item)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (d *Dynamo) GetByChargeID(ctx context.Context, chargeID string) (*order.Order, error) {
	orders, err := d.queryOrders(ctx, "charge_id-index", "charge_id", chargeID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, order.ErrOrderNotFound
	}
	return orders[0], nil
}

func (d *Dynamo) ListByBuyer(ctx context.Context, buyerID string) ([]*order.Order, error) {
	return d.queryOrders(ctx, "buyer_id-index", "buyer_id", buyerID)
}

// ListBySeller scans the table; seller dashboards are a low-volume surface
// and the table has no seller key.
func (d *Dynamo) ListBySeller(ctx context.Context, sellerID string) ([]*order.Order, error) {
	result, err := d.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.ordersTable),
	})
	if err != nil {
		return nil, err
	}
	var out []*order.Order
	for _, item := range result.Items {
		o, err := unmarshalDynamoOrder(item)
		if err != nil {
			return nil, err
		}
		for _, line := range o.Items {
			if line.SellerID == sellerID {
				out = append(out, o)
				break
			}
		}
	}
	return out, nil
}

// Products

type dynamoProduct struct {
	ID         string `dynamodbav:"id"`
	SellerID   string `dynamodbav:"seller_id"`
	Name       string `dynamodbav:"name"`
	BasePrice  int64  `dynamodbav:"base_price"`
	Commission int64  `dynamodbav:"commission"`
	Price      int64  `dynamodbav:"price"`
	Stock      int    `dynamodbav:"stock"`
	Active     bool   `dynamodbav:"active"`
}

func (d *Dynamo) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(result.Item) == 0 {
		return nil, product.ErrProductNotFound
	}
	var rec dynamoProduct
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, err
	}
	return &product.Product{
		ID:         rec.ID,
		SellerID:   rec.SellerID,
		Name:       rec.Name,
		BasePrice:  rec.BasePrice,
		Commission: rec.Commission,
		Price:      rec.Price,
		Stock:      rec.Stock,
		Active:     rec.Active,
	}, nil
}

// ReserveStock uses a conditional update so the stock check and decrement
// are a single atomic write.
func (d *Dynamo) ReserveStock(ctx context.Context, id string, qty int) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET stock = stock - :q"),
		ConditionExpression: aws.String("attribute_exists(id) AND active = :true AND stock >= :q"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", qty)},
			":true": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		// Condition failed: work out which precondition was violated
		p, getErr := d.GetProduct(ctx, id)
		if getErr != nil {
			return getErr
		}
		if !p.Active {
			return product.ErrProductInactive
		}
		return fmt.Errorf("%w: only %d left of product %s", product.ErrInsufficientStock, p.Stock, id)
	}
	return err
}

func (d *Dynamo) ReleaseStock(ctx context.Context, id string, qty int) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET stock = stock + :q"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", qty)},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return product.ErrProductNotFound
	}
	return err
}

// Processed webhook events

func (d *Dynamo) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	key := provider + "/" + eventID
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.processedTable),
		Item: map[string]types.AttributeValue{
			"event_key":    &types.AttributeValueMemberS{Value: key},
			"processed_at": &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(event_key)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Dynamo) Forget(ctx context.Context, provider, eventID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.processedTable),
		Key: map[string]types.AttributeValue{
			"event_key": &types.AttributeValueMemberS{Value: provider + "/" + eventID},
		},
	})
	return err
}
