package nbfx

// Record types from [MC-NBFX] 2.2. Text records have a WithEndElement
// variant at type+1.
const (
	recEndElement byte = 0x01
	recComment    byte = 0x02
	recArray      byte = 0x03

	recShortAttribute                byte = 0x04
	recAttribute                     byte = 0x05
	recShortDictionaryAttribute      byte = 0x06
	recDictionaryAttribute           byte = 0x07
	recShortXmlnsAttribute           byte = 0x08
	recXmlnsAttribute                byte = 0x09
	recShortDictionaryXmlnsAttribute byte = 0x0A
	recDictionaryXmlnsAttribute      byte = 0x0B
	recPrefixDictionaryAttributeA    byte = 0x0C
	recPrefixDictionaryAttributeZ    byte = 0x25
	recPrefixAttributeA              byte = 0x26
	recPrefixAttributeZ              byte = 0x3F

	recShortElement             byte = 0x40
	recElement                  byte = 0x41
	recShortDictionaryElement   byte = 0x42
	recDictionaryElement        byte = 0x43
	recPrefixDictionaryElementA byte = 0x44
	recPrefixDictionaryElementZ byte = 0x5D
	recPrefixElementA           byte = 0x5E
	recPrefixElementZ           byte = 0x77

	recZeroText            byte = 0x80
	recOneText             byte = 0x82
	recFalseText           byte = 0x84
	recTrueText            byte = 0x86
	recInt8Text            byte = 0x88
	recInt16Text           byte = 0x8A
	recInt32Text           byte = 0x8C
	recInt64Text           byte = 0x8E
	recFloatText           byte = 0x90
	recDoubleText          byte = 0x92
	recDecimalText         byte = 0x94
	recDateTimeText        byte = 0x96
	recChars8Text          byte = 0x98
	recChars16Text         byte = 0x9A
	recChars32Text         byte = 0x9C
	recBytes8Text          byte = 0x9E
	recBytes16Text         byte = 0xA0
	recBytes32Text         byte = 0xA2
	recStartListText       byte = 0xA4
	recEndListText         byte = 0xA6
	recEmptyText           byte = 0xA8
	recDictionaryText      byte = 0xAA
	recUniqueIdText        byte = 0xAC
	recTimeSpanText        byte = 0xAE
	recUuidText            byte = 0xB0
	recUInt64Text          byte = 0xB2
	recBoolText            byte = 0xB4
	recUnicodeChars8Text   byte = 0xB6
	recUnicodeChars16Text  byte = 0xB8
	recUnicodeChars32Text  byte = 0xBA
	recQNameDictionaryText byte = 0xBC
)

func isAttributeRecord(t byte) bool {
	return t >= recShortAttribute && t <= recPrefixAttributeZ
}

func isElementRecord(t byte) bool {
	return t >= recShortElement && t <= recPrefixElementZ
}

// isTextRecord reports whether t starts a text node in element content.
// StartListText and EndListText have no WithEndElement form.
func isTextRecord(t byte) bool {
	switch t {
	case recStartListText:
		return true
	case recStartListText + 1, recEndListText, recEndListText + 1:
		return false
	}
	return t >= recZeroText && t <= recQNameDictionaryText+1
}

// arrayValueTypes lists the WithEndElement text records allowed as the value
// type of an Array record ([MC-NBFX] 2.2.3.31).
var arrayValueTypes = map[byte]bool{
	recBoolText + 1:     true,
	recInt16Text + 1:    true,
	recInt32Text + 1:    true,
	recInt64Text + 1:    true,
	recFloatText + 1:    true,
	recDoubleText + 1:   true,
	recDecimalText + 1:  true,
	recDateTimeText + 1: true,
	recTimeSpanText + 1: true,
	recUuidText + 1:     true,
}
