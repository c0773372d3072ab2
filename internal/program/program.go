// Package program encodes the instructions and account layout of the GIF
// program: one record-holding BaseAccount created by start_stuff_off and
// appended to by add_gif. Encoding follows Anchor: an 8-byte sighash
// discriminator followed by borsh fields.
package program

import (
	"bytes"

	"github.com/cockroachdb/errors"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/atinyakov/GifHub/internal/models"
)

// AccountSpace is the number of bytes allocated for the BaseAccount.
const AccountSpace = 9000

// Instruction names as declared by the program.
const (
	InstructionInitialize = "start_stuff_off"
	InstructionAddGif     = "add_gif"
)

var (
	initializeDiscriminator = bin.SighashTypeID(bin.SIGHASH_GLOBAL_NAMESPACE, InstructionInitialize)
	addGifDiscriminator     = bin.SighashTypeID(bin.SIGHASH_GLOBAL_NAMESPACE, InstructionAddGif)
	accountDiscriminator    = bin.SighashTypeID(bin.SIGHASH_ACCOUNT_NAMESPACE, "BaseAccount")
)

// minItemSize is the borsh size of an Item with an empty link.
const minItemSize = 4 + solana.PublicKeyLength

// ErrAccountMismatch means the account data is not a BaseAccount.
var ErrAccountMismatch = errors.New("account discriminator mismatch")

// Item is one stored GIF.
type Item struct {
	GifLink     string
	UserAddress solana.PublicKey
}

// BaseAccount is the record-holding account.
type BaseAccount struct {
	TotalGifs uint64
	GifList   []Item
}

// Records converts the account into client records in stored order.
func (a BaseAccount) Records() []models.Record {
	out := make([]models.Record, len(a.GifList))
	for i, it := range a.GifList {
		out[i] = models.Record{Text: it.GifLink, SubmittedBy: models.Identity(it.UserAddress.String())}
	}
	return out
}

// Encode serializes the account including its discriminator.
func (a BaseAccount) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(accountDiscriminator[:])
	if err := bin.NewBorshEncoder(buf).Encode(a); err != nil {
		return nil, errors.Wrap(err, "encode base account")
	}
	return buf.Bytes(), nil
}

// DecodeBaseAccount parses account data. Bytes after the last item are
// ignored, so zero padding up to AccountSpace and fields added later by
// the program are tolerated.
func DecodeBaseAccount(data []byte) (BaseAccount, error) {
	var a BaseAccount
	if len(data) < len(accountDiscriminator) || !bytes.Equal(data[:8], accountDiscriminator[:]) {
		return a, ErrAccountMismatch
	}
	dec := bin.NewBorshDecoder(data[8:])
	total, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return a, errors.Wrap(err, "decode base account")
	}
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return a, errors.Wrap(err, "decode base account")
	}
	// The length prefix is untrusted; never allocate past what the data holds.
	if uint64(n)*minItemSize > uint64(dec.Remaining()) {
		return a, errors.Newf("decode base account: %d items do not fit in %d bytes", n, dec.Remaining())
	}
	a.TotalGifs = total
	a.GifList = make([]Item, 0, n)
	for i := uint32(0); i < n; i++ {
		var it Item
		if err := dec.Decode(&it); err != nil {
			return a, errors.Wrapf(err, "decode item %d", i)
		}
		a.GifList = append(a.GifList, it)
	}
	return a, nil
}

// InitializeInstruction creates baseAccount, paid for by user.
// Both accounts must sign.
func InitializeInstruction(programID, baseAccount, user solana.PublicKey) *solana.GenericInstruction {
	return solana.NewInstruction(
		programID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(baseAccount, true, true),
			solana.NewAccountMeta(user, true, true),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		append([]byte(nil), initializeDiscriminator[:]...),
	)
}

type addGifArgs struct {
	GifLink string
}

// AddGifInstruction appends link to baseAccount on behalf of user.
func AddGifInstruction(programID, baseAccount, user solana.PublicKey, link string) (*solana.GenericInstruction, error) {
	buf := new(bytes.Buffer)
	buf.Write(addGifDiscriminator[:])
	if err := bin.NewBorshEncoder(buf).Encode(addGifArgs{GifLink: link}); err != nil {
		return nil, errors.Wrap(err, "encode add_gif")
	}
	return solana.NewInstruction(
		programID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(baseAccount, true, false),
			solana.NewAccountMeta(user, true, true),
		},
		buf.Bytes(),
	), nil
}

// Call is a decoded instruction.
type Call struct {
	Name string
	// Link is set for add_gif.
	Link string
}

// DecodeInstruction identifies the instruction encoded in data.
func DecodeInstruction(data []byte) (Call, error) {
	if len(data) < 8 {
		return Call{}, errors.New("instruction data too short")
	}
	switch bin.TypeIDFromBytes(data[:8]) {
	case initializeDiscriminator:
		return Call{Name: InstructionInitialize}, nil
	case addGifDiscriminator:
		dec := bin.NewBorshDecoder(data[8:])
		n, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return Call{}, errors.Wrap(err, "decode add_gif")
		}
		if int64(n) > int64(dec.Remaining()) {
			return Call{}, errors.Newf("decode add_gif: link of %d bytes exceeds data", n)
		}
		link, err := dec.ReadNBytes(int(n))
		if err != nil {
			return Call{}, errors.Wrap(err, "decode add_gif")
		}
		return Call{Name: InstructionAddGif, Link: string(link)}, nil
	default:
		return Call{}, errors.New("unknown instruction")
	}
}
